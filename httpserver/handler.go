package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/groupshare/cryptoutils"
	"github.com/ruteri/groupshare/interfaces"
	"github.com/ruteri/groupshare/transfer"
)

// Header constants used in HTTP requests and responses.
const (
	// UserHeader names the caller when a trusted proxy authenticates users.
	UserHeader = "X-User-Id"

	// FileHashHeader carries the SHA-256 of a retrieved plaintext.
	FileHashHeader = "X-File-Hash"

	// VerificationHeader carries the ledger verification outcome of a retrieval.
	VerificationHeader = "X-Hash-Verification"

	// KeyVersionHeader carries the group key version a file was decrypted with.
	KeyVersionHeader = "X-Key-Version"

	// DefaultMaxUploadBytes is the upload limit when none is configured (100 MiB).
	DefaultMaxUploadBytes = 100 << 20

	// maxJSONBodySize limits management request bodies (64 KiB).
	maxJSONBodySize = 64 << 10
)

// GroupAdmin is the group management surface of the key manager.
type GroupAdmin interface {
	ProvisionGroup(ctx context.Context, group string, key []byte) error
	AddMember(ctx context.Context, group, user string) error
	RevokeMember(ctx context.Context, group, user string) error
	RotateKey(ctx context.Context, group string, key []byte) error
}

// Transfers is the file transfer surface of the orchestrator.
type Transfers interface {
	Upload(ctx context.Context, group, user string, plaintext []byte, filename string) (*transfer.UploadResult, error)
	Retrieve(ctx context.Context, req transfer.RetrieveRequest) (*transfer.RetrieveResult, error)
	ListTransfers(ctx context.Context, group, user string) ([]interfaces.TransferRecord, error)
	Reconcile(ctx context.Context, group, user string, cid interfaces.CID) ([]interfaces.TransferRecord, error)
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Class         string `json:"class,omitempty"`
	Step          string `json:"step,omitempty"`
	CID           string `json:"cid,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Hint          string `json:"hint,omitempty"`
}

// Handler serves group management and file transfers over HTTP.
type Handler struct {
	admin          GroupAdmin
	transfers      Transfers
	maxUploadBytes int64
	log            *slog.Logger
}

// NewHandler creates a new HTTP request handler. maxUploadBytes <= 0 selects
// DefaultMaxUploadBytes.
func NewHandler(admin GroupAdmin, transfers Transfers, maxUploadBytes int64, log *slog.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		admin:          admin,
		transfers:      transfers,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

// Mount registers the group routes on r. Management routes require the admin
// token, file routes an authenticated user. limit, when set, runs after
// authentication.
func (h *Handler) Mount(r chi.Router, auth *Authenticator, limit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/", h.HandleProvisionGroup)
		r.Post("/{group}/members", h.HandleAddMember)
		r.Delete("/{group}/members/{user}", h.HandleRevokeMember)
		r.Post("/{group}/keys", h.HandleRotateKey)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/{group}/files", h.HandleUpload)
		r.Get("/{group}/files", h.HandleListTransfers)
		r.Get("/{group}/files/{cid}", h.HandleRetrieve)
		r.Get("/{group}/files/{cid}/records", h.HandleReconcile)
	})
}

type provisionRequest struct {
	GroupID string `json:"groupId"`
	Key     string `json:"key,omitempty"`
}

type memberRequest struct {
	UserID string `json:"userId"`
}

type keyRequest struct {
	Key string `json:"key,omitempty"`
}

type reconcileResponse struct {
	CID      interfaces.CID              `json:"cid"`
	Recorded bool                        `json:"recorded"`
	Records  []interfaces.TransferRecord `json:"records"`
}

// HandleProvisionGroup registers a group and stores its first key.
//
// URL format: POST /api/v1/groups
// Request body: {"groupId": "...", "key": "<optional base64 32-byte key>"}
func (h *Handler) HandleProvisionGroup(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.GroupID == "" {
		h.writeMessage(w, http.StatusBadRequest, "groupId is required")
		return
	}

	key, ok := h.optionalKey(w, req.Key)
	if !ok {
		return
	}

	if err := h.admin.ProvisionGroup(r.Context(), req.GroupID, key); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"groupId": req.GroupID, "status": "provisioned"})
}

// HandleAddMember authorizes a user in a group.
//
// URL format: POST /api/v1/groups/{group}/members
// Request body: {"userId": "..."}
func (h *Handler) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")

	var req memberRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		h.writeMessage(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := h.admin.AddMember(r.Context(), group, req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"groupId": group, "userId": req.UserID, "status": "added"})
}

// HandleRevokeMember removes a user from a group and rotates the group key.
//
// URL format: DELETE /api/v1/groups/{group}/members/{user}
func (h *Handler) HandleRevokeMember(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	user := chi.URLParam(r, "user")

	if err := h.admin.RevokeMember(r.Context(), group, user); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"groupId": group, "userId": user, "status": "revoked"})
}

// HandleRotateKey replaces the group key.
//
// URL format: POST /api/v1/groups/{group}/keys
// Request body: {"key": "<optional base64 32-byte key>"}; empty body generates a key.
func (h *Handler) HandleRotateKey(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")

	var req keyRequest
	if r.ContentLength != 0 && !h.decodeJSON(w, r, &req) {
		return
	}
	key, ok := h.optionalKey(w, req.Key)
	if !ok {
		return
	}

	if err := h.admin.RotateKey(r.Context(), group, key); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"groupId": group, "status": "rotated"})
}

// HandleUpload encrypts and stores the raw request body for the calling user.
//
// URL format: POST /api/v1/groups/{group}/files?filename=name
// Required headers: X-User-Id
// Response: {"cid", "transactionId", "fileHash", "keyVersion"}
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	group := chi.URLParam(r, "group")

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "upload"
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeMessage(w, http.StatusRequestEntityTooLarge, "file exceeds upload limit of "+strconv.FormatInt(h.maxUploadBytes, 10)+" bytes")
			return
		}
		h.writeMessage(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	res, err := h.transfers.Upload(r.Context(), group, user, body, filename)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

// HandleRetrieve returns the decrypted content of a file.
//
// URL format: GET /api/v1/groups/{group}/files/{cid}[?expectedGroup=g][&verify=false]
// Required headers: X-User-Id
// Response headers: X-File-Hash, X-Hash-Verification, X-Key-Version
func (h *Handler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	res, err := h.transfers.Retrieve(r.Context(), transfer.RetrieveRequest{
		Group:         chi.URLParam(r, "group"),
		User:          user,
		CID:           interfaces.CID(chi.URLParam(r, "cid")),
		ExpectedGroup: query.Get("expectedGroup"),
		SkipVerify:    query.Get("verify") == "false",
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(FileHashHeader, res.FileHash)
	w.Header().Set(VerificationHeader, string(res.Verification))
	w.Header().Set(KeyVersionHeader, strconv.FormatUint(res.KeyVersion, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Plaintext); err != nil {
		h.log.Warn("Failed to write response", "err", err)
	}
}

// HandleListTransfers returns the transfer records of a group.
//
// URL format: GET /api/v1/groups/{group}/files
// Required headers: X-User-Id
func (h *Handler) HandleListTransfers(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	records, err := h.transfers.ListTransfers(r.Context(), chi.URLParam(r, "group"), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

// HandleReconcile reports whether a CID is recorded for a group.
//
// URL format: GET /api/v1/groups/{group}/files/{cid}/records
// Required headers: X-User-Id
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	cid := interfaces.CID(chi.URLParam(r, "cid"))

	records, err := h.transfers.Reconcile(r.Context(), chi.URLParam(r, "group"), user, cid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reconcileResponse{CID: cid, Recorded: len(records) > 0, Records: records})
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, "unauthenticated request")
		return "", false
	}
	return user, true
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) optionalKey(w http.ResponseWriter, encoded string) ([]byte, bool) {
	if encoded == "" {
		return nil, true
	}
	key, err := cryptoutils.DecodeGroupKey(encoded)
	if err != nil {
		h.writeMessage(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return key, true
}

// statusFor maps an error to its HTTP status and class.
func statusFor(err error) (int, transfer.Class) {
	class := transfer.ClassOf(err)
	if class == "" {
		class = transfer.Classify(err)
		if errors.Is(err, interfaces.ErrLedgerTimeout) {
			class = transfer.ClassAmbiguous
		}
	}

	switch {
	case errors.Is(err, interfaces.ErrNoSuchGroup),
		errors.Is(err, interfaces.ErrContentNotFound):
		return http.StatusNotFound, class
	case errors.Is(err, interfaces.ErrGroupAlreadyExists),
		errors.Is(err, interfaces.ErrAlreadyMember),
		errors.Is(err, interfaces.ErrNotAMember):
		return http.StatusConflict, class
	}

	switch class {
	case transfer.ClassValidation:
		return http.StatusBadRequest, class
	case transfer.ClassAuthorization:
		return http.StatusForbidden, class
	case transfer.ClassAmbiguous:
		return http.StatusAccepted, class
	case transfer.ClassPartialSaga:
		return http.StatusBadGateway, class
	case transfer.ClassIntegrity:
		return http.StatusUnprocessableEntity, class
	default:
		return http.StatusServiceUnavailable, class
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, class := statusFor(err)

	resp := ErrorResponse{Error: err.Error(), Class: string(class)}
	var te *transfer.TransferError
	if errors.As(err, &te) {
		resp.Step = string(te.Step)
		resp.CID = string(te.CID)
		resp.TransactionID = te.TransactionID
		resp.Hint = te.Hint
	}
	var ae *interfaces.AccessError
	if errors.As(err, &ae) && resp.Hint == "" {
		resp.Hint = ae.Hint
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.log.Log(r.Context(), level, "Request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("class", resp.Class),
		slog.String("cid", resp.CID),
		"err", err)

	h.writeJSON(w, status, resp)
}

func (h *Handler) writeMessage(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg, Class: string(transfer.ClassValidation)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
