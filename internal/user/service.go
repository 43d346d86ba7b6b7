package user

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"useradmin/internal/apperr"
	"useradmin/internal/keystore"
	"useradmin/internal/logging"
	"useradmin/internal/pipeline"
	pb "useradmin/pkg/proto"
	"useradmin/pkg/signature"
)

var log = logging.For("user")

// Import outcomes.
const (
	ImportInserted = "imported"
	ImportSkipped  = "skipped"
)

const reasonEmailExists = "email already exists"

// Service implements the user use cases. Every write that sets or changes
// an email goes through the signing pipeline.
type Service struct {
	repo     Repository
	pipeline *pipeline.Pipeline
	now      func() time.Time
}

func NewService(repo Repository, p *pipeline.Pipeline) *Service {
	return &Service{repo: repo, pipeline: p, now: now}
}

type Page struct {
	Users []User
	Page  int
	Limit int
	Total int64
	Pages int64
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type VerifySummary struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

type VerifyReport struct {
	Results map[int64]signature.Result `json:"results"`
	Summary VerifySummary              `json:"summary"`
}

type ImportOutcome struct {
	SourceID int64  `json:"sourceId"`
	Email    string `json:"email"`
	Outcome  string `json:"outcome"`
	ID       int64  `json:"id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type ImportReport struct {
	Records  []ImportOutcome `json:"records"`
	Imported int             `json:"imported"`
	Skipped  int             `json:"skipped"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*User, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, in.Email, 0); err != nil {
		return nil, err
	}
	signed, err := s.sign(in.Email)
	if err != nil {
		return nil, err
	}
	ts := s.now()
	u := &User{
		Email:            in.Email,
		Role:             in.Role,
		Status:           in.Status,
		EmailHash:        signed.EmailHash,
		DigitalSignature: signed.Signature,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, s.repoError("creating user", err)
	}
	log.Info("user created", "id", u.ID)
	return u, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.repoError("loading user", err)
	}
	return u, nil
}

// Update applies in to user id. A changed email is re-hashed and re-signed
// so that the stored signature always covers the stored email.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*User, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.repoError("loading user", err)
	}
	if in.Email != nil && *in.Email != u.Email {
		if err := s.ensureEmailFree(ctx, *in.Email, id); err != nil {
			return nil, err
		}
		signed, err := s.sign(*in.Email)
		if err != nil {
			return nil, err
		}
		u.Email = *in.Email
		u.EmailHash = signed.EmailHash
		u.DigitalSignature = signed.Signature
		log.Info("user email changed, record re-signed", "id", id)
	}
	if in.Role != nil {
		u.Role = *in.Role
	}
	if in.Status != nil {
		u.Status = *in.Status
	}
	u.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, s.repoError("updating user", err)
	}
	return u, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.repoError("deleting user", err)
	}
	log.Info("user deleted", "id", id)
	return nil
}

func (s *Service) List(ctx context.Context, q ListParams) (Page, error) {
	users, total, err := s.repo.List(ctx, q)
	if err != nil {
		return Page{}, s.repoError("listing users", err)
	}
	pages := int64(0)
	if q.Limit > 0 {
		pages = (total + int64(q.Limit) - 1) / int64(q.Limit)
	}
	return Page{Users: users, Page: q.Page, Limit: q.Limit, Total: total, Pages: pages}, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return Stats{}, s.repoError("computing stats", err)
	}
	return st, nil
}

// Chart counts users created on each of the last days UTC days, today
// included, oldest first. Days without users count zero.
func (s *Service) Chart(ctx context.Context, days int) ([]DailyCount, error) {
	if days < 1 || days > MaxChartDays {
		return nil, apperr.InvalidArg("days must be an integer between 1 and 365")
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))

	times, err := s.repo.CreatedSince(ctx, start)
	if err != nil {
		return nil, s.repoError("loading chart data", err)
	}
	counts := make(map[string]int64, days)
	for _, t := range times {
		counts[t.UTC().Format(time.DateOnly)]++
	}
	out := make([]DailyCount, days)
	for i := range days {
		d := start.AddDate(0, 0, i).Format(time.DateOnly)
		out[i] = DailyCount{Date: d, Count: counts[d]}
	}
	return out, nil
}

// Export serializes every user, ordered by id, into a binary export.
func (s *Service) Export(ctx context.Context) ([]byte, int, error) {
	users, err := s.repo.All(ctx)
	if err != nil {
		return nil, 0, s.repoError("loading users", err)
	}
	payload, err := s.pipeline.Export(records(users))
	if err != nil {
		return nil, 0, apperr.Internal("export failed", err)
	}
	return payload, len(users), nil
}

// Verify re-verifies stored users. With no ids every user is checked. Ids
// that do not exist report as invalid.
func (s *Service) Verify(ctx context.Context, ids []int64) (VerifyReport, error) {
	var (
		users []User
		err   error
	)
	if len(ids) == 0 {
		users, err = s.repo.All(ctx)
	} else {
		users, err = s.repo.FindByIDs(ctx, ids)
	}
	if err != nil {
		return VerifyReport{}, s.repoError("loading users", err)
	}
	results := s.pipeline.VerifyBatchDetail(ctx, records(users))
	for _, id := range ids {
		if _, ok := results[id]; !ok {
			results[id] = signature.Result{Reason: ErrNotFound.Error()}
		}
	}
	return newReport(results), nil
}

func (s *Service) VerifyOne(ctx context.Context, id int64) (signature.Result, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return signature.Result{}, s.repoError("loading user", err)
	}
	return s.pipeline.VerifyRecord(u.Record()), nil
}

// VerifyExport decodes a binary export and verifies each record in it
// without touching the database.
func (s *Service) VerifyExport(ctx context.Context, payload []byte) (pb.RecordList, VerifyReport, error) {
	list, results, err := s.pipeline.VerifyExport(ctx, payload)
	if err != nil {
		return pb.RecordList{}, VerifyReport{}, apperr.Wrap(apperr.CodeInvalidArgument, "malformed export payload", err)
	}
	return list, newRecordReport(list.Records, results), nil
}

// Import inserts the records of a binary export whose signatures verify
// and whose emails are not yet taken. Records keep their signature
// verbatim and receive new ids. Each record is judged on its own result;
// records sharing a source id are all skipped.
func (s *Service) Import(ctx context.Context, payload []byte) (ImportReport, error) {
	list, results, err := s.pipeline.VerifyExport(ctx, payload)
	if err != nil {
		return ImportReport{}, apperr.Wrap(apperr.CodeInvalidArgument, "malformed export payload", err)
	}
	report := ImportReport{Records: make([]ImportOutcome, 0, len(list.Records))}
	for i, r := range list.Records {
		o := s.importRecord(ctx, r, results[i])
		if o.Outcome == ImportInserted {
			report.Imported++
		} else {
			report.Skipped++
		}
		report.Records = append(report.Records, o)
	}
	log.Info("import finished", "imported", report.Imported, "skipped", report.Skipped)
	return report, nil
}

func (s *Service) importRecord(ctx context.Context, r pb.Record, res signature.Result) ImportOutcome {
	o := ImportOutcome{SourceID: r.ID, Email: r.Email, Outcome: ImportSkipped}
	if !res.Valid {
		o.Reason = res.Reason
		return o
	}
	in, err := CreateInput{Email: r.Email, Role: r.Role, Status: r.Status}.Normalize()
	if err != nil {
		o.Reason = apperr.PublicMessage(err)
		return o
	}
	if in.Email != r.Email {
		o.Reason = "email must be a valid email"
		return o
	}
	hash := r.EmailHash
	if hash == "" {
		hash, _ = signature.Hash(r.Email)
	}
	ts := s.now()
	u := &User{
		Email:            r.Email,
		Role:             in.Role,
		Status:           in.Status,
		EmailHash:        hash,
		DigitalSignature: r.Signature,
		CreatedAt:        parseTimeOr(r.CreatedAt, ts),
		UpdatedAt:        ts,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			o.Reason = reasonEmailExists
		} else {
			log.Warn("import insert failed", "email_hash", hash, "err", err)
			o.Reason = "insert failed"
		}
		return o
	}
	o.Outcome = ImportInserted
	o.ID = u.ID
	return o
}

func (s *Service) sign(email string) (pipeline.Signed, error) {
	signed, err := s.pipeline.SignEmail(email)
	switch {
	case err == nil:
		return signed, nil
	case errors.Is(err, keystore.ErrNotInitialized):
		return pipeline.Signed{}, apperr.Unavailable("signing keys are not ready", err)
	case errors.Is(err, signature.ErrInvalidInput):
		return pipeline.Signed{}, apperr.InvalidArg("email cannot be signed")
	default:
		return pipeline.Signed{}, apperr.Internal("signing failed", err)
	}
}

// ensureEmailFree fails when email belongs to a user other than self.
func (s *Service) ensureEmailFree(ctx context.Context, email string, self int64) error {
	existing, err := s.repo.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return s.repoError("checking email", err)
	case existing.ID != self:
		return apperr.AlreadyExists("user with this email already exists")
	}
	return nil
}

func (s *Service) repoError(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("user not found")
	case errors.Is(err, ErrDuplicateEmail):
		return apperr.AlreadyExists("user with this email already exists")
	}
	log.Error(op+" failed", "err", err)
	return apperr.Internal(op+" failed", err)
}

func records(users []User) []pb.Record {
	out := make([]pb.Record, len(users))
	for i, u := range users {
		out[i] = u.Record()
	}
	return out
}

func newReport(results map[int64]signature.Result) VerifyReport {
	sum := VerifySummary{Total: len(results)}
	for _, r := range results {
		if r.Valid {
			sum.Valid++
		} else {
			sum.Invalid++
		}
	}
	return VerifyReport{Results: results, Summary: sum}
}

// newRecordReport summarizes per-record results. The summary counts
// records, so duplicated ids are not folded away.
func newRecordReport(recs []pb.Record, results []signature.Result) VerifyReport {
	rep := VerifyReport{
		Results: make(map[int64]signature.Result, len(recs)),
		Summary: VerifySummary{Total: len(recs)},
	}
	for i, r := range recs {
		rep.Results[r.ID] = results[i]
		if results[i].Valid {
			rep.Summary.Valid++
		} else {
			rep.Summary.Invalid++
		}
	}
	return rep
}

func parseTimeOr(s string, fallback time.Time) time.Time {
	t, err := time.Parse(pb.TimeLayout, s)
	if err != nil {
		return fallback
	}
	return t.UTC()
}
