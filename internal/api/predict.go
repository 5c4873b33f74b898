package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kartoza/renewal-predictor/internal/codec"
	"github.com/kartoza/renewal-predictor/internal/journal"
	"github.com/kartoza/renewal-predictor/internal/metrics"
	"github.com/kartoza/renewal-predictor/internal/pipeline"
	"github.com/kartoza/renewal-predictor/internal/scheduler"
)

// AllFailedMessage is the body of a 415 reply
const AllFailedMessage = "All received files invalid or in wrong format"

var ErrPartTooLarge = errors.New("part exceeds size limit")

// pendingPart tracks one uploaded part from dispatch until its outcome is
// written
type pendingPart struct {
	index       int
	formName    string
	filename    string
	contentType string
	bytesIn     int
	future      *scheduler.Future[[]byte]

	// set by the worker before the future resolves
	duration time.Duration
}

// handlePredict scores every part of a multipart upload and streams back
// the parts that succeeded. Parts are dispatched as soon as they are read
// and written back in upload order.
func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)
	logger := h.logger.With().Str("request_id", requestID).Logger()
	ctx := r.Context()

	batch := h.dispatch(ctx, r, logger)
	h.collect(ctx, w, batch, logger, requestID)
}

// dispatch reads the body part by part and submits each one to the pool
// without waiting for earlier parts
func (h *Handler) dispatch(ctx context.Context, r *http.Request, logger zerolog.Logger) []*pendingPart {
	reader, err := r.MultipartReader()
	if err != nil {
		logger.Warn().Err(err).Msg("request body is not multipart")
		return nil
	}

	var batch []*pendingPart
	for i := 0; ; i++ {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn().Err(err).Int("parts_read", i).Msg("failed to read multipart body")
			break
		}

		pp := &pendingPart{
			index:       i,
			formName:    part.FormName(),
			filename:    part.FileName(),
			contentType: part.Header.Get("Content-Type"),
		}
		data, err := io.ReadAll(io.LimitReader(part, h.cfg.Server.MaxPartBytes+1))
		part.Close()
		pp.bytesIn = len(data)
		batch = append(batch, pp)

		if err != nil {
			logger.Warn().Err(err).Str("filename", pp.filename).Msg("failed to read part")
			pp.future = scheduler.Completed[[]byte](nil, pipeline.Fail(pipeline.KindDecodeFailed, err))
			break
		}
		if int64(len(data)) > h.cfg.Server.MaxPartBytes {
			err := fmt.Errorf("%d bytes allowed: %w", h.cfg.Server.MaxPartBytes, ErrPartTooLarge)
			pp.future = scheduler.Completed[[]byte](nil, pipeline.Fail(pipeline.KindDecodeFailed, err))
			continue
		}

		pp.future = scheduler.Submit(ctx, h.pool, func() ([]byte, error) {
			start := time.Now()
			defer func() { pp.duration = time.Since(start) }()
			return h.scorer.Process(data, pp.contentType)
		})
	}

	if h.metrics != nil {
		h.metrics.Gauge(metrics.PoolQueued, float64(h.pool.Stats().Queued), nil)
	}
	return batch
}

// collect waits for outcomes in submission order. The 200 header is sent
// with the first success; each later success is flushed as soon as it and
// every part before it are done. With no success the reply is 415.
func (h *Handler) collect(ctx context.Context, w http.ResponseWriter, batch []*pendingPart, logger zerolog.Logger, requestID string) {
	var mw *multipart.Writer
	flusher, _ := w.(http.Flusher)
	succeeded := 0

	for _, pp := range batch {
		out, err := pp.future.Wait(ctx)
		if ctx.Err() != nil {
			logger.Warn().Err(ctx.Err()).Int("parts", len(batch)).Msg("request ended before all parts finished, discarding results")
			return
		}

		var perr *pipeline.PartError
		if err != nil {
			perr = asPartError(err)
		}
		h.report(pp, out, perr, logger, requestID)
		if perr != nil {
			continue
		}

		if mw == nil {
			mw = multipart.NewWriter(w)
			w.Header().Set("Content-Type", mw.FormDataContentType())
			w.WriteHeader(http.StatusOK)
		}
		if err := writePart(mw, pp, out); err != nil {
			logger.Warn().Err(err).Str("filename", pp.filename).Msg("failed to write response part")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		succeeded++
	}

	if mw == nil {
		h.countRequest(http.StatusUnsupportedMediaType)
		logger.Info().Int("parts", len(batch)).Msg("no part could be processed")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		io.WriteString(w, AllFailedMessage)
		return
	}

	if err := mw.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close multipart response")
	}
	h.countRequest(http.StatusOK)
	logger.Info().Int("parts", len(batch)).Int("succeeded", succeeded).Msg("request processed")
}

func writePart(mw *multipart.Writer, pp *pendingPart, body []byte) error {
	name := pp.formName
	if name == "" {
		name = fmt.Sprintf("part%d", pp.index)
	}
	params := map[string]string{"name": name}
	if pp.filename != "" {
		params["filename"] = pp.filename
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", pp.contentType)
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", params))

	pw, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = pw.Write(body)
	return err
}

// asPartError maps scheduler failures onto the part error taxonomy
func asPartError(err error) *pipeline.PartError {
	var perr *pipeline.PartError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, scheduler.ErrWorkerFault) {
		return pipeline.Fail(pipeline.KindWorkerFault, err)
	}
	return pipeline.Fail(pipeline.KindCanceled, err)
}

// report logs, counts and journals the outcome of one part. None of these
// may fail the request.
func (h *Handler) report(pp *pendingPart, out []byte, perr *pipeline.PartError, logger zerolog.Logger, requestID string) {
	format := "unsupported"
	if f, err := codec.FormatFor(pp.contentType); err == nil {
		format = f.String()
	}

	entry := journal.Entry{
		RequestID:   requestID,
		Index:       pp.index,
		FormName:    pp.formName,
		Filename:    pp.filename,
		ContentType: pp.contentType,
		Success:     perr == nil,
		BytesIn:     pp.bytesIn,
		BytesOut:    len(out),
		Duration:    pp.duration,
		CreatedAt:   time.Now(),
	}

	tags := []string{"format:" + format}
	if perr == nil {
		tags = append(tags, "outcome:success")
		logger.Info().
			Int("part", pp.index).
			Str("filename", pp.filename).
			Str("content_type", pp.contentType).
			Dur("duration", pp.duration).
			Msg("part processed successfully")
	} else {
		entry.Kind = perr.Kind.String()
		entry.Reason = perr.Err.Error()
		tags = append(tags, "outcome:"+entry.Kind)

		event := logger.Warn()
		var fault *scheduler.FaultError
		if errors.As(perr, &fault) {
			event = logger.Error().Bytes("stack", fault.Stack)
		}
		event.
			Int("part", pp.index).
			Str("filename", pp.filename).
			Str("content_type", pp.contentType).
			Str("kind", entry.Kind).
			Err(perr.Err).
			Msg("part is in unsupported format or invalid")
	}

	if h.metrics != nil {
		h.metrics.Count(metrics.PartProcessed, 1, tags)
		h.metrics.Count(metrics.PartBytes, int64(pp.bytesIn), tags)
		if pp.duration > 0 {
			h.metrics.Timing(metrics.PartLatency, pp.duration, tags)
		}
	}
	if h.journal != nil {
		h.journal.Record(entry)
	}
}

func (h *Handler) countRequest(status int) {
	if h.metrics != nil {
		h.metrics.Count(metrics.RequestStatus, 1, []string{fmt.Sprintf("status:%d", status)})
	}
}
