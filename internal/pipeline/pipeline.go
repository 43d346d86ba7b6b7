// Package pipeline binds signing and verification to record lifecycle
// events: a record is signed when created or when its email changes,
// serialized on export, and re-verified in batches.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"useradmin/internal/logging"
	"useradmin/internal/metrics"
	pb "useradmin/pkg/proto"
	"useradmin/pkg/signature"
)

var log = logging.For("pipeline")

// Reasons reported for records that cannot be checked at all.
const (
	ReasonNoSignature  = "record has no signature"
	ReasonHashMismatch = "stored email hash does not match email"
	ReasonDuplicateID  = "record id appears more than once"
)

const (
	defaultConcurrency = 8
	defaultCacheTTL    = 10 * time.Minute
	defaultCacheSize   = 1024
)

// Signed is the pair of values persisted with a record. Both columns are
// written together from one Signed value.
type Signed struct {
	EmailHash string
	Signature string
}

type Config struct {
	Keys signature.KeySource
	// Metrics receives the pipeline counters. Nil registers them on a
	// private registry nobody scrapes.
	Metrics *metrics.Metrics
	// Concurrency bounds parallel checks in batch verification.
	Concurrency int
	// CacheTTL is how long parsed public keys stay cached.
	CacheTTL time.Duration
	Now      func() time.Time
}

type Pipeline struct {
	signer      *signature.HashSigner
	verifier    *signature.Verifier
	keys        keyCache
	metrics     *metrics.Metrics
	concurrency int
	now         func() time.Time
}

func New(cfg Config) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	// No janitor goroutine: expired entries are dropped on access and the
	// capacity bounds the rest.
	cache := ttlcache.New[string, signature.PublicKey](
		ttlcache.WithTTL[string, signature.PublicKey](cfg.CacheTTL),
		ttlcache.WithCapacity[string, signature.PublicKey](defaultCacheSize),
	)
	keys := keyCache{cache}
	return &Pipeline{
		signer:      signature.NewHashSigner(cfg.Keys),
		verifier:    signature.NewVerifier(keys),
		keys:        keys,
		metrics:     cfg.Metrics,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
	}
}

// SignEmail hashes and signs email with the current key. It runs on record
// creation and whenever a record's email changes.
func (p *Pipeline) SignEmail(email string) (Signed, error) {
	se, err := p.signer.SignEmail(email)
	if err != nil {
		p.metrics.SignatureFailures.Inc()
		return Signed{}, err
	}
	encoded, err := signature.Encode(se.Signature)
	if err != nil {
		p.metrics.SignatureFailures.Inc()
		return Signed{}, err
	}
	p.metrics.Signatures.Inc()
	return Signed{EmailHash: se.EmailHash, Signature: encoded}, nil
}

// Export serializes records, in order, into a binary export payload.
func (p *Pipeline) Export(records []pb.Record) ([]byte, error) {
	payload, err := pb.EncodeList(pb.NewRecordList(records, p.now()))
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}
	p.metrics.Exports.Inc()
	p.metrics.ExportedRecords.Add(float64(len(records)))
	return payload, nil
}

// VerifyRecord checks one record using only the data it carries.
func (p *Pipeline) VerifyRecord(r pb.Record) signature.Result {
	res, label := p.verifyRecord(r)
	p.metrics.Verifications.WithLabelValues(label).Inc()
	return res
}

func (p *Pipeline) verifyRecord(r pb.Record) (signature.Result, string) {
	if r.Signature == "" {
		return signature.Result{Reason: ReasonNoSignature}, metrics.ResultMalformed
	}
	b, err := signature.Decode(r.Signature)
	if err != nil {
		log.Debug("undecodable signature", "id", r.ID, "err", err)
		return signature.Result{Reason: err.Error()}, metrics.ResultMalformed
	}
	ok, err := p.verifier.Verify(r.Email, b)
	switch {
	case err != nil:
		log.Debug("structurally invalid signature", "id", r.ID, "err", err)
		return signature.Result{Reason: err.Error()}, metrics.ResultMalformed
	case !ok:
		return signature.Result{Reason: signature.ReasonMismatch}, metrics.ResultInvalid
	}
	if r.EmailHash != "" {
		if want, _ := signature.Hash(r.Email); want != r.EmailHash {
			return signature.Result{Reason: ReasonHashMismatch}, metrics.ResultInvalid
		}
	}
	return signature.Result{Valid: true}, metrics.ResultValid
}

// VerifyRecords verifies records concurrently and returns one result per
// record, in input order. A failing record never affects the others. Once
// ctx is done no new checks start and the remaining records report the
// context error. Every record whose id appears more than once fails with
// ReasonDuplicateID, whatever its signature.
func (p *Pipeline) VerifyRecords(ctx context.Context, records []pb.Record) []signature.Result {
	results := make([]signature.Result, len(records))
	done := make([]bool, len(records))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = p.VerifyRecord(records[i])
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[int64]int, len(records))
	for _, r := range records {
		seen[r.ID]++
	}
	for i, r := range records {
		switch {
		case !done[i]:
			results[i] = signature.Result{Reason: contextReason(ctx)}
		case seen[r.ID] > 1:
			results[i] = signature.Result{Reason: ReasonDuplicateID}
		}
	}
	return results
}

// VerifyBatchDetail is VerifyRecords keyed by record id. Duplicated ids
// all fail, so the collapse into one entry cannot hide a bad record.
func (p *Pipeline) VerifyBatchDetail(ctx context.Context, records []pb.Record) map[int64]signature.Result {
	results := p.VerifyRecords(ctx, records)
	out := make(map[int64]signature.Result, len(records))
	for i, r := range records {
		out[r.ID] = results[i]
	}
	return out
}

// VerifyBatch is VerifyBatchDetail reduced to booleans.
func (p *Pipeline) VerifyBatch(ctx context.Context, records []pb.Record) map[int64]bool {
	detail := p.VerifyBatchDetail(ctx, records)
	out := make(map[int64]bool, len(detail))
	for id, res := range detail {
		out[id] = res.Valid
	}
	return out
}

// VerifyExport decodes a binary export and verifies every record in it.
// This is the path an independent verifier takes; it needs no key material
// beyond what the payload carries. Results are aligned with list.Records.
func (p *Pipeline) VerifyExport(ctx context.Context, payload []byte) (pb.RecordList, []signature.Result, error) {
	list, err := pb.DecodeList(payload)
	if err != nil {
		return pb.RecordList{}, nil, err
	}
	return list, p.VerifyRecords(ctx, list.Records), nil
}

func contextReason(ctx context.Context) string {
	if err := ctx.Err(); err != nil {
		return err.Error()
	}
	return context.Canceled.Error()
}

// keyCache adapts a ttlcache to signature.KeyCache.
type keyCache struct {
	c *ttlcache.Cache[string, signature.PublicKey]
}

func (k keyCache) Get(key string) (signature.PublicKey, bool) {
	item := k.c.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (k keyCache) Put(key string, pub signature.PublicKey) {
	k.c.Set(key, pub, ttlcache.DefaultTTL)
}
