package http

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/foodalley/orders/internal/domain"
)

const (
	// HeaderIdempotencyKey защищает оформление заказа от двойной отправки.
	HeaderIdempotencyKey = "Idempotency-Key"

	idempotencyTTL = 24 * time.Hour
)

// withIdempotency оборачивает обработчик записи в idempotency-барьер.
//
// Без заголовка Idempotency-Key запрос выполняется напрямую. С заголовком
// повтор того же запроса возвращает закэшированный ответ, повтор ключа с
// другим телом отклоняется, а гонка двух одинаковых запросов разрешается
// через уникальность ключа в хранилище.
func (h *Handler) withIdempotency(w http.ResponseWriter, r *http.Request, handler func() ([]byte, int, error)) {
	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" || h.idem == nil {
		h.runAndWrite(w, handler)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, errBadJSON)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	reqHash := hashRequest(r.Method, r.URL.Path, body)

	if _, err := h.idem.CreateProcessing(key, reqHash, time.Now().UTC().Add(idempotencyTTL)); err != nil {
		h.replayIdempotency(w, key, reqHash, err)
		return
	}

	respBody, status, err := handler()
	if err != nil {
		// Ошибка тоже кэшируется: повтор того же запроса получит тот же ответ.
		errStatus, errBody := h.errorPayload(err)
		if markErr := h.idem.MarkFailed(key, errBody, errStatus); markErr != nil {
			h.logger.WithError(markErr).WithField("idempotency_key", key).Warn("failed to store idempotent failure")
		}
		h.writeRaw(w, errStatus, errBody)
		return
	}

	if markErr := h.idem.MarkDone(key, respBody, status); markErr != nil {
		h.logger.WithError(markErr).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}

	h.writeRaw(w, status, respBody)
}

func (h *Handler) replayIdempotency(w http.ResponseWriter, key, reqHash string, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		h.writeError(w, createErr)
		return
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
	default:
		h.writeError(w, createErr)
		return
	}

	record, err := h.idem.Get(key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if record.RequestHash != reqHash {
		h.writeError(w, domain.ErrIdempotencyHashMismatch)
		return
	}

	if record.Status.Terminal() {
		h.writeRaw(w, record.HTTPStatus, record.ResponseBody)
		return
	}
	// Первый запрос ещё обрабатывается.
	h.writeJSON(w, http.StatusConflict, errorResponse{Error: "request is still processing"})
}

func (h *Handler) runAndWrite(w http.ResponseWriter, handler func() ([]byte, int, error)) {
	body, status, err := handler()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeRaw(w, status, body)
}

func (h *Handler) writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	if status <= 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.WithError(err).Warn("failed to write response")
	}
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte{0})
	sum.Write([]byte(path))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}
