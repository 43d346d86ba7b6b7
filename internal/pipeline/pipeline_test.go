package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"useradmin/internal/keystore"
	"useradmin/internal/metrics"
	pb "useradmin/pkg/proto"
	"useradmin/pkg/signature"
)

var exportTime = time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)

func newPipeline(t *testing.T) (*Pipeline, *keystore.KeyStore, *metrics.Metrics) {
	t.Helper()
	ks := keystore.New(keystore.Config{Dir: t.TempDir()})
	require.NoError(t, ks.Initialize())
	m := metrics.New(prometheus.NewRegistry())
	p := New(Config{
		Keys:        ks,
		Metrics:     m,
		Concurrency: 2,
		Now:         func() time.Time { return exportTime },
	})
	return p, ks, m
}

func signedRecord(t *testing.T, p *Pipeline, id int64, email string) pb.Record {
	t.Helper()
	s, err := p.SignEmail(email)
	require.NoError(t, err)
	return pb.Record{
		ID:        id,
		Email:     email,
		Role:      "user",
		Status:    "active",
		EmailHash: s.EmailHash,
		Signature: s.Signature,
		CreatedAt: "2024-12-01T10:00:00.000Z",
		UpdatedAt: "2024-12-01T10:00:00.000Z",
	}
}

func TestSignEmailEndToEnd(t *testing.T) {
	p, ks, m := newPipeline(t)

	s, err := p.SignEmail("alice@example.com")
	require.NoError(t, err)

	wantHash, _ := signature.Hash("alice@example.com")
	assert.Equal(t, wantHash, s.EmailHash)
	assert.Len(t, s.EmailHash, 96)

	b, err := signature.Decode(s.Signature)
	require.NoError(t, err)
	assert.Equal(t, signature.AlgorithmECDSA, b.Algorithm)
	assert.Equal(t, signature.CurveSecp256k1, b.Curve)
	assert.Equal(t, signature.HashSHA384, b.HashAlgorithm)

	pub, _ := ks.PublicKey()
	assert.Equal(t, pub.Encode(), b.PublicKey)

	ok, err := signature.Verify("alice@example.com", b)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = signature.Verify("alice@example.org", b)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Signatures))
}

func TestSignEmailRejectsEmpty(t *testing.T) {
	p, _, m := newPipeline(t)
	_, err := p.SignEmail("")
	assert.ErrorIs(t, err, signature.ErrInvalidInput)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SignatureFailures))
}

func TestSignEmailBeforeKeysReady(t *testing.T) {
	ks := keystore.New(keystore.Config{Dir: t.TempDir()})
	p := New(Config{Keys: ks, Metrics: metrics.New(prometheus.NewRegistry())})
	_, err := p.SignEmail("alice@example.com")
	assert.ErrorIs(t, err, keystore.ErrNotInitialized)
}

func TestExportRoundTripVerifies(t *testing.T) {
	p, _, m := newPipeline(t)
	records := []pb.Record{
		signedRecord(t, p, 3, "carol@example.com"),
		signedRecord(t, p, 1, "alice@example.com"),
		signedRecord(t, p, 2, "bob@example.com"),
	}

	payload, err := p.Export(records)
	require.NoError(t, err)

	list, results, err := p.VerifyExport(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, records, list.Records, "order and content must survive the round trip")
	assert.Equal(t, int32(3), list.TotalCount)
	assert.Equal(t, "2024-12-01T10:00:00.000Z", list.ExportedAt)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.True(t, res.Valid, "record %d: %s", list.Records[i].ID, res.Reason)
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Exports))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ExportedRecords))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Verifications.WithLabelValues(metrics.ResultValid)))
}

func TestVerifyExportRejectsGarbage(t *testing.T) {
	p, _, _ := newPipeline(t)
	_, _, err := p.VerifyExport(context.Background(), []byte{0x0a, 0xff})
	assert.ErrorIs(t, err, pb.ErrMalformed)
}

func TestVerifyBatchIsolatesFailures(t *testing.T) {
	p, _, m := newPipeline(t)
	records := []pb.Record{
		signedRecord(t, p, 1, "a@example.com"),
		signedRecord(t, p, 2, "b@example.com"),
		signedRecord(t, p, 3, "c@example.com"),
	}
	// Corrupt record 2 by pairing its signature with another email.
	records[1].Email = "mallory@example.com"

	got := p.VerifyBatch(context.Background(), records)
	assert.Equal(t, map[int64]bool{1: true, 2: false, 3: true}, got)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Verifications.WithLabelValues(metrics.ResultInvalid)))
}

func TestVerifyBatchAbsorbsMalformedRecords(t *testing.T) {
	p, _, m := newPipeline(t)
	good := signedRecord(t, p, 1, "a@example.com")

	badKey := signedRecord(t, p, 4, "d@example.com")
	b, _ := signature.Decode(badKey.Signature)
	b.PublicKey = "04deadbeef"
	badKey.Signature, _ = signature.Encode(b)

	badHash := signedRecord(t, p, 5, "e@example.com")
	badHash.EmailHash = "00"

	records := []pb.Record{
		good,
		{ID: 2, Email: "b@example.com"},
		{ID: 3, Email: "c@example.com", Signature: "not base64 at all!"},
		badKey,
		badHash,
	}

	got := p.VerifyBatchDetail(context.Background(), records)
	require.Len(t, got, 5)
	assert.True(t, got[1].Valid)
	assert.Equal(t, ReasonNoSignature, got[2].Reason)
	assert.Contains(t, got[3].Reason, "malformed")
	assert.False(t, got[4].Valid)
	assert.NotEmpty(t, got[4].Reason)
	assert.Equal(t, ReasonHashMismatch, got[5].Reason)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.Verifications.WithLabelValues(metrics.ResultMalformed)))
}

func TestVerifyRecordsFailsSharedIDs(t *testing.T) {
	p, _, _ := newPipeline(t)
	forged := signedRecord(t, p, 7, "alice@example.com")
	forged.Email = "mallory@example.com"
	forged.EmailHash = ""
	records := []pb.Record{
		forged,
		signedRecord(t, p, 7, "bob@example.com"),
		signedRecord(t, p, 8, "carol@example.com"),
	}

	got := p.VerifyRecords(context.Background(), records)
	require.Len(t, got, 3)
	assert.Equal(t, signature.Result{Reason: ReasonDuplicateID}, got[0])
	assert.Equal(t, signature.Result{Reason: ReasonDuplicateID}, got[1])
	assert.True(t, got[2].Valid)

	assert.Equal(t, map[int64]bool{7: false, 8: true}, p.VerifyBatch(context.Background(), records))
}

func TestNilMetricsDefaults(t *testing.T) {
	ks := keystore.New(keystore.Config{Dir: t.TempDir()})
	require.NoError(t, ks.Initialize())
	p := New(Config{Keys: ks})

	s, err := p.SignEmail("a@example.com")
	require.NoError(t, err)
	r := pb.Record{ID: 1, Email: "a@example.com", EmailHash: s.EmailHash, Signature: s.Signature}
	assert.True(t, p.VerifyRecord(r).Valid)
	_, err = p.Export([]pb.Record{r})
	assert.NoError(t, err)
}

func TestVerifyBatchCancelledContext(t *testing.T) {
	p, _, _ := newPipeline(t)
	records := []pb.Record{
		signedRecord(t, p, 1, "a@example.com"),
		signedRecord(t, p, 2, "b@example.com"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := p.VerifyBatchDetail(ctx, records)
	require.Len(t, got, 2)
	for id, res := range got {
		assert.False(t, res.Valid, "record %d", id)
		assert.Equal(t, context.Canceled.Error(), res.Reason)
	}
}

func TestVerifyBatchEmpty(t *testing.T) {
	p, _, _ := newPipeline(t)
	assert.Empty(t, p.VerifyBatch(context.Background(), nil))
}

func TestRecordsSurviveRotation(t *testing.T) {
	p, ks, _ := newPipeline(t)
	before := signedRecord(t, p, 1, "a@example.com")
	require.NoError(t, ks.Rotate())
	after := signedRecord(t, p, 2, "b@example.com")

	bBefore, _ := signature.Decode(before.Signature)
	bAfter, _ := signature.Decode(after.Signature)
	assert.NotEqual(t, bBefore.PublicKey, bAfter.PublicKey)

	got := p.VerifyBatch(context.Background(), []pb.Record{before, after})
	assert.Equal(t, map[int64]bool{1: true, 2: true}, got)
}

func TestKeyCacheHoldsParsedKeys(t *testing.T) {
	p, ks, _ := newPipeline(t)
	pub, _ := ks.PublicKey()

	r := signedRecord(t, p, 1, "a@example.com")
	for range 3 {
		assert.True(t, p.VerifyRecord(r).Valid)
	}

	cached, ok := p.keys.Get(pub.Scheme().Name() + "|" + pub.Encode())
	require.True(t, ok, "public key should be cached after verification")
	assert.True(t, cached.Equal(pub))
}
