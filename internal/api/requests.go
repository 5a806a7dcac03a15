// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// maxRequestBody bounds request payloads at 1 MiB.
const maxRequestBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// FeedbackRequest is the payload for submitting free-form feedback.
type FeedbackRequest struct {
	// Feedback is the raw user signal, e.g. "more cooking, less politics".
	Feedback string `json:"feedback" validate:"required,max=2000"`

	// PostID optionally anchors the feedback to the post it was given on.
	PostID string `json:"post_id" validate:"omitempty,max=128"`
}

// CredentialsRequest is the payload for storing collaborator
// credentials.
type CredentialsRequest struct {
	APIKey string `json:"api_key" validate:"required,max=256"`

	// Endpoint optionally overrides the configured collaborator base URL.
	Endpoint string `json:"endpoint" validate:"omitempty,url,max=512"`
}

// decodeAndValidate decodes a JSON request body into dst and runs
// struct validation. Returns a client-facing error message on failure.
func decodeAndValidate(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, maxRequestBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("field %q failed validation rule %q", f.Field(), f.Tag())
		}
		return err
	}
	return nil
}
