package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"useradmin/internal/user"
)

type pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

type listResponse struct {
	Users      []user.View `json:"users"`
	Pagination pagination  `json:"pagination"`
}

type exportResponse struct {
	Data   string `json:"data"`
	Count  int    `json:"count"`
	Format string `json:"format"`
}

type verifyExportResponse struct {
	TotalCount int32             `json:"totalCount"`
	ExportedAt string            `json:"exportedAt"`
	Users      []user.View       `json:"users"`
	Report     user.VerifyReport `json:"verification"`
}

func pathID(r *http.Request) (int64, error) {
	return user.ParseID(r.PathValue("id"))
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in user.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	u, err := s.deps.Users.Create(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "User created successfully", u.View())
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q, err := user.ParseListParams(r.URL.Query())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	page, err := s.deps.Users.List(r.Context(), q)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Users retrieved successfully", listResponse{
		Users: user.Views(page.Users),
		Pagination: pagination{
			Page:  page.Page,
			Limit: page.Limit,
			Total: page.Total,
			Pages: page.Pages,
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Users.Stats(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "User statistics retrieved successfully", st)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	days, err := user.ParseDays(r.URL.Query().Get("days"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	data, err := s.deps.Users.Chart(r.Context(), days)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Chart data retrieved successfully", data)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	payload, n, err := s.deps.Users.Export(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if wantsBinary(r) {
		w.Header().Set("Content-Type", contentTypeProtobuf)
		w.Header().Set("Content-Disposition", `attachment; filename="users.pb"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(payload); err != nil {
			log.DebugContext(r.Context(), "writing export failed", "err", err)
		}
		return
	}
	writeOK(w, http.StatusOK, "Users exported successfully", exportResponse{
		Data:   base64.StdEncoding.EncodeToString(payload),
		Count:  n,
		Format: "protobuf",
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeAppError(w, r, err)
			return
		}
	}
	report, err := s.deps.Users.Verify(r.Context(), req.IDs)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Verification completed", report)
}

func (s *Server) handleVerifyExport(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(w, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	list, report, err := s.deps.Users.VerifyExport(r.Context(), payload)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	views := make([]user.View, len(list.Records))
	for i, rec := range list.Records {
		views[i] = user.RecordView(rec)
	}
	writeOK(w, http.StatusOK, "Export verified", verifyExportResponse{
		TotalCount: list.TotalCount,
		ExportedAt: list.ExportedAt,
		Users:      views,
		Report:     report,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(w, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	report, err := s.deps.Users.Import(r.Context(), payload)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Import completed", report)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	u, err := s.deps.Users.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "User retrieved successfully", u.View())
}

func (s *Server) handleVerifyUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := s.deps.Users.VerifyOne(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Verification completed", res)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	var in user.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	u, err := s.deps.Users.Update(r.Context(), id, in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "User updated successfully", u.View())
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := s.deps.Users.Delete(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "User deleted successfully", nil)
}
