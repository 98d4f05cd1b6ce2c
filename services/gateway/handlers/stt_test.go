// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
)

// buildAudioForm assembles a multipart body with an audio part and
// optional extra text fields.
func buildAudioForm(t *testing.T, audio []byte, fields map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if audio != nil {
		part, err := mw.CreateFormFile("audio", "clip.webm")
		require.NoError(t, err)
		_, err = part.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

// signedSttRequest signs the raw multipart bytes, exactly as clients do.
func signedSttRequest(t *testing.T, d *Deps, body []byte, contentType string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/stt", bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Real-IP", "203.0.113.8")
	gateHeaders(req, d.Cfg)
	signRequest(t, d, req, body)
	return req
}

func TestHandleStt_Transcribes(t *testing.T) {
	model := &fakeModel{transcript: "  hello, I need help with my order  "}
	d := newTestDeps(t, model)

	body, ct := buildAudioForm(t, []byte("fake-opus-bytes"), map[string]string{"lang": "en-us"})
	w := serve(HandleStt(d), http.MethodPost, "/api/stt", signedSttRequest(t, d, body, ct))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp datatypes.SttResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello, I need help with my order", resp.Text)
	assert.Equal(t, fallbackSttModel, resp.Model)

	assert.Equal(t, fallbackSttModel, w.Header().Get("x-model"))
	assert.NotEmpty(t, w.Header().Get("x-transcript-digest-sha512"))
	assert.Equal(t, d.Cfg.IntegrityGateway, w.Header().Get("x-integrity-gateway"))

	assert.Equal(t, "clip.webm", model.sttFilename)
	assert.Equal(t, "en-us", model.sttLanguage)
}

func TestHandleStt_ModelPreference(t *testing.T) {
	model := &fakeModel{transcript: "ok"}
	d := newTestDeps(t, model)
	d.Cfg.SttTurbo = "whisper-large-v3-turbo"

	body, ct := buildAudioForm(t, []byte("audio"), map[string]string{"prefer": "turbo"})
	w := serve(HandleStt(d), http.MethodPost, "/api/stt", signedSttRequest(t, d, body, ct))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "whisper-large-v3-turbo", model.sttModel)
}

func TestHandleStt_RequiresMultipart(t *testing.T) {
	d := newTestDeps(t, &fakeModel{})

	body := []byte(`{"audio":"nope"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/stt", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	gateHeaders(req, d.Cfg)
	signRequest(t, d, req, body)

	w := serve(HandleStt(d), http.MethodPost, "/api/stt", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Expected multipart/form-data", decodeError(t, w))
}

func TestHandleStt_MissingAudio(t *testing.T) {
	d := newTestDeps(t, &fakeModel{})

	body, ct := buildAudioForm(t, nil, map[string]string{"lang": "en"})
	w := serve(HandleStt(d), http.MethodPost, "/api/stt", signedSttRequest(t, d, body, ct))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Audio blob missing", decodeError(t, w))
}

func TestHandleStt_OversizedAudio(t *testing.T) {
	d := newTestDeps(t, &fakeModel{})
	d.Cfg.MaxAudioBytes = 64

	body, ct := buildAudioForm(t, bytes.Repeat([]byte("x"), 200), nil)
	w := serve(HandleStt(d), http.MethodPost, "/api/stt", signedSttRequest(t, d, body, ct))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "Audio payload exceeds limit", decodeError(t, w))
}

func TestHandleStt_HoneypotField(t *testing.T) {
	d := newTestDeps(t, &fakeModel{})

	body, ct := buildAudioForm(t, []byte("audio"), map[string]string{"website_url": "http://spam.example"})
	w := serve(HandleStt(d), http.MethodPost, "/api/stt", signedSttRequest(t, d, body, ct))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "blocked", w.Header().Get("x-honeypot"))
}

func TestHandleStt_TranscriptionFailure(t *testing.T) {
	d := newTestDeps(t, &fakeModel{transcribeErr: errors.New("upstream timeout")})

	body, ct := buildAudioForm(t, []byte("audio"), nil)
	w := serve(HandleStt(d), http.MethodPost, "/api/stt", signedSttRequest(t, d, body, ct))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to transcribe audio", decodeError(t, w))
}

func TestHandleStt_SignatureCoversRawBody(t *testing.T) {
	d := newTestDeps(t, &fakeModel{transcript: "ok"})

	body, ct := buildAudioForm(t, []byte("audio"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/stt", bytes.NewReader(body))
	req.Header.Set("Content-Type", ct)
	gateHeaders(req, d.Cfg)
	signRequest(t, d, req, append([]byte("tampered"), body...))

	w := serve(HandleStt(d), http.MethodPost, "/api/stt", req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "invalid_signature", decodeError(t, w))
}
