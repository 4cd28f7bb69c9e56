// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
)

// AccessLog logs one line per request at start and completion and
// stamps X-Response-Time on the response. Mount it directly after
// RequestID so the request-scoped logger already carries the
// correlation ID.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Writer = &timingWriter{ResponseWriter: c.Writer, start: start}

		log := logging.FromContext(c.Request.Context()).With(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
		)
		log.Info("request started", "user_agent", c.Request.UserAgent())

		c.Next()

		// The tracing layer mounts downstream, so the span only exists
		// on the way back out.
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			log = log.With("trace_id", sc.TraceID().String())
		}
		log.Info("request completed",
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", c.Writer.Size(),
		)
	}
}

// timingWriter sets X-Response-Time just before the first byte of the
// response goes out. Headers are immutable after the flush, so the
// stamp has to ride whichever write happens first.
type timingWriter struct {
	gin.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timingWriter) stamp() {
	if w.stamped || w.Written() {
		return
	}
	w.stamped = true
	w.Header().Set(HeaderResponseTime,
		fmt.Sprintf("%.3fs", time.Since(w.start).Seconds()))
}

func (w *timingWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) WriteHeaderNow() {
	w.stamp()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timingWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

func (w *timingWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}
