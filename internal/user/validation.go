package user

import (
	"net/mail"
	"net/url"
	"strconv"
	"strings"

	"useradmin/internal/apperr"
)

const (
	DefaultPage      = 1
	DefaultLimit     = 10
	MaxLimit         = 100
	DefaultSortBy    = "created_at"
	SortAsc          = "asc"
	SortDesc         = "desc"
	DefaultSortOrder = SortDesc

	DefaultChartDays = 7
	MaxChartDays     = 365

	maxEmailLength = 255
)

type CreateInput struct {
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

// UpdateInput carries the fields to change. Nil means unchanged.
type UpdateInput struct {
	Email  *string `json:"email,omitempty"`
	Role   *string `json:"role,omitempty"`
	Status *string `json:"status,omitempty"`
}

type ListParams struct {
	Page      int
	Limit     int
	Role      string
	Status    string
	SortBy    string
	SortOrder string
}

// problems accumulates validation failures so that one response reports
// all of them.
type problems []string

func (p *problems) add(msg string) { *p = append(*p, msg) }

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return apperr.InvalidArg(strings.Join(p, ", "))
}

// Normalize trims the input, applies defaults and validates it.
func (in CreateInput) Normalize() (CreateInput, error) {
	var p problems
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" {
		p.add("email is required")
	} else if msg := checkEmail(in.Email); msg != "" {
		p.add(msg)
	}
	if in.Role == "" {
		in.Role = RoleUser
	} else if !validRole(in.Role) {
		p.add("role must be one of [admin, user]")
	}
	if in.Status == "" {
		in.Status = StatusActive
	} else if !validStatus(in.Status) {
		p.add("status must be one of [active, inactive]")
	}
	return in, p.err()
}

func (in UpdateInput) Normalize() (UpdateInput, error) {
	if in.Email == nil && in.Role == nil && in.Status == nil {
		return in, apperr.InvalidArg("at least one of email, role or status is required")
	}
	var p problems
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		in.Email = &email
		if msg := checkEmail(email); msg != "" {
			p.add(msg)
		}
	}
	if in.Role != nil && !validRole(*in.Role) {
		p.add("role must be one of [admin, user]")
	}
	if in.Status != nil && !validStatus(*in.Status) {
		p.add("status must be one of [active, inactive]")
	}
	return in, p.err()
}

// ParseListParams reads and validates list query parameters.
func ParseListParams(q url.Values) (ListParams, error) {
	var p problems
	lp := ListParams{
		Page:      DefaultPage,
		Limit:     DefaultLimit,
		Role:      q.Get("role"),
		Status:    q.Get("status"),
		SortBy:    DefaultSortBy,
		SortOrder: DefaultSortOrder,
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			p.add("page must be an integer greater than or equal to 1")
		} else {
			lp.Page = n
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxLimit {
			p.add("limit must be an integer between 1 and 100")
		} else {
			lp.Limit = n
		}
	}
	if lp.Role != "" && !validRole(lp.Role) {
		p.add("role must be one of [admin, user]")
	}
	if lp.Status != "" && !validStatus(lp.Status) {
		p.add("status must be one of [active, inactive]")
	}
	if v := q.Get("sortBy"); v != "" {
		if _, ok := sortColumns[v]; !ok {
			p.add("sortBy must be one of [id, email, role, status, created_at, updated_at]")
		} else {
			lp.SortBy = v
		}
	}
	if v := q.Get("sortOrder"); v != "" {
		if v != SortAsc && v != SortDesc {
			p.add("sortOrder must be one of [asc, desc]")
		} else {
			lp.SortOrder = v
		}
	}
	return lp, p.err()
}

// ParseID parses a positive integer user id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, apperr.InvalidArg("id must be a positive integer")
	}
	return id, nil
}

// ParseDays parses the chart window. Empty means the default.
func ParseDays(s string) (int, error) {
	if s == "" {
		return DefaultChartDays, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > MaxChartDays {
		return 0, apperr.InvalidArg("days must be an integer between 1 and 365")
	}
	return n, nil
}

func checkEmail(email string) string {
	if len(email) > maxEmailLength {
		return "email must be at most 255 characters"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "email must be a valid email"
	}
	at := strings.LastIndexByte(email, '@')
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "email must be a valid email"
	}
	return ""
}

func validRole(r string) bool   { return r == RoleAdmin || r == RoleUser }
func validStatus(s string) bool { return s == StatusActive || s == StatusInactive }
