package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/taskpad/internal/docstore"
	"github.com/hitoshi/taskpad/internal/metrics"
)

type contextKey string

const uidContextKey contextKey = "uid"

// NewRouter はエミュレーターの全エンドポイントを構成したchi.Routerを返す。
//
// エンドポイント:
//
//	POST /identity/v1/accounts:signUp
//	POST /identity/v1/accounts:signInWithPassword
//	POST /identity/v1/accounts:sendOobCode
//	GET|POST|PUT|PATCH|DELETE /store/v1/*
//	GET /healthz, GET /metrics
//
// 認証エンドポイントはレート制限の内側に置く。ドキュメントAPIは
// BearerトークンのuidでパスをスコープしてユーザーAがユーザーBの
// レコードに触れないことを保証する。
func NewRouter(emu *Emulator, rl *RateLimiter, gatherer prometheus.Gatherer) http.Handler {
	h := &handlers{emu: emu}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(rl.Middleware())
		r.Post("/identity/v1/accounts:signUp", h.signUp)
		r.Post("/identity/v1/accounts:signInWithPassword", h.signIn)
		r.Post("/identity/v1/accounts:sendOobCode", h.sendOobCode)
	})

	r.Route("/store/v1", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/*", h.listDocuments)
		r.Post("/*", h.createDocument)
		r.Put("/*", h.setDocument)
		r.Patch("/*", h.updateDocument)
		r.Delete("/*", h.deleteDocument)
	})

	return r
}

type handlers struct {
	emu *Emulator
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type oobCodePayload struct {
	RequestType string `json:"requestType"`
	IDToken     string `json:"idToken"`
	Email       string `json:"email"`
}

// signUp は新規アカウントを作成する。
// POST /identity/v1/accounts:signUp
func (h *handlers) signUp(w http.ResponseWriter, r *http.Request) {
	var payload credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	account, token, err := h.emu.SignUp(payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			writeError(w, http.StatusBadRequest, ErrEmailExists.Error())
			return
		}
		slog.Error("emulator sign-up failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	slog.Info("emulator account created", slog.String("uid", account.UID))
	writeJSON(w, http.StatusOK, map[string]any{
		"idToken": token,
		"uid":     account.UID,
		"email":   account.Email,
	})
}

// signIn は資格情報を検証しトークンを発行する。
// POST /identity/v1/accounts:signInWithPassword
func (h *handlers) signIn(w http.ResponseWriter, r *http.Request) {
	var payload credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	account, token, err := h.emu.SignIn(payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, ErrInvalidCredentials.Error())
			return
		}
		slog.Error("emulator sign-in failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"idToken": token,
		"uid":     account.UID,
		"email":   account.Email,
	})
}

// sendOobCode は確認メールまたはリセットメールの送信依頼を受け付ける。
// 実際のメールは送らずログに残す。PASSWORD_RESETはアカウントの
// 存在有無にかかわらず同一の応答を返す。
// POST /identity/v1/accounts:sendOobCode
func (h *handlers) sendOobCode(w http.ResponseWriter, r *http.Request) {
	var payload oobCodePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	switch payload.RequestType {
	case "VERIFY_EMAIL":
		uid, err := h.emu.VerifyToken(payload.IDToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "INVALID_ID_TOKEN")
			return
		}
		slog.Info("verification email requested", slog.String("uid", uid))
	case "PASSWORD_RESET":
		if h.emu.HasAccount(payload.Email) {
			slog.Info("password reset email requested", slog.String("email", payload.Email))
		} else {
			slog.Info("password reset requested for unknown email")
		}
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{})
}

// requireAuth はBearerトークンを検証しuidをコンテキストへ載せる。
func (h *handlers) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "MISSING_ID_TOKEN")
			return
		}

		uid, err := h.emu.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "INVALID_ID_TOKEN")
			return
		}

		ctx := context.WithValue(r.Context(), uidContextKey, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// scopedPath はリクエストパスがトークンのuid配下であることを検証して返す。
func scopedPath(r *http.Request) (string, bool) {
	uid, _ := r.Context().Value(uidContextKey).(string)
	path := chi.URLParam(r, "*")

	prefix := "users/" + uid
	if path == prefix || strings.HasPrefix(path, prefix+"/") {
		return path, true
	}
	return "", false
}

// createDocument はコレクション配下に新規レコードを作成する。
// POST /store/v1/{collection}
func (h *handlers) createDocument(w http.ResponseWriter, r *http.Request) {
	collection, ok := scopedPath(r)
	if !ok {
		writeError(w, http.StatusForbidden, "PERMISSION_DENIED")
		return
	}

	var payload struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if payload.Data == nil {
		payload.Data = map[string]any{}
	}

	id, err := h.emu.store.Create(r.Context(), collection, payload.Data)
	if err != nil {
		slog.Error("emulator create failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

// setDocument は指定パスにレコードを書き込む。既存レコードは置き換える。
// PUT /store/v1/{path}
func (h *handlers) setDocument(w http.ResponseWriter, r *http.Request) {
	path, ok := scopedPath(r)
	if !ok {
		writeError(w, http.StatusForbidden, "PERMISSION_DENIED")
		return
	}

	var payload struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if payload.Data == nil {
		payload.Data = map[string]any{}
	}

	if err := h.emu.store.Set(r.Context(), path, payload.Data); err != nil {
		slog.Error("emulator set failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// listDocuments はコレクション配下の全レコードを返す。
// GET /store/v1/{collection}
func (h *handlers) listDocuments(w http.ResponseWriter, r *http.Request) {
	collection, ok := scopedPath(r)
	if !ok {
		writeError(w, http.StatusForbidden, "PERMISSION_DENIED")
		return
	}

	docs, err := h.emu.store.List(r.Context(), collection)
	if err != nil {
		slog.Error("emulator list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	payload := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		payload = append(payload, map[string]any{"id": doc.ID, "data": doc.Data})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": payload})
}

// updateDocument は既存レコードに部分データをマージする。
// PATCH /store/v1/{path}
func (h *handlers) updateDocument(w http.ResponseWriter, r *http.Request) {
	path, ok := scopedPath(r)
	if !ok {
		writeError(w, http.StatusForbidden, "PERMISSION_DENIED")
		return
	}

	var payload struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	if err := h.emu.store.Update(r.Context(), path, payload.Data); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND")
			return
		}
		slog.Error("emulator update failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// deleteDocument は指定パスのレコードを削除する。
// DELETE /store/v1/{path}
func (h *handlers) deleteDocument(w http.ResponseWriter, r *http.Request) {
	path, ok := scopedPath(r)
	if !ok {
		writeError(w, http.StatusForbidden, "PERMISSION_DENIED")
		return
	}

	if err := h.emu.store.Delete(r.Context(), path); err != nil {
		slog.Error("emulator delete failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": code,
		},
	})
}
