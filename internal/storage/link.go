package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const amzDateLayout = "20060102T150405Z"

// LinkExpiry reads the signing time and lifetime from a SigV4 presigned
// URL and returns the instant the grant stops being honoured.
func LinkExpiry(rawURL string) (time.Time, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse link: %w", err)
	}
	q := u.Query()

	signedAt := q.Get("X-Amz-Date")
	if signedAt == "" {
		return time.Time{}, errors.New("link has no X-Amz-Date")
	}
	issued, err := time.Parse(amzDateLayout, signedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse X-Amz-Date: %w", err)
	}

	rawExpires := q.Get("X-Amz-Expires")
	if rawExpires == "" {
		return time.Time{}, errors.New("link has no X-Amz-Expires")
	}
	seconds, err := strconv.ParseInt(rawExpires, 10, 64)
	if err != nil || seconds <= 0 {
		return time.Time{}, fmt.Errorf("invalid X-Amz-Expires %q", rawExpires)
	}

	return issued.Add(time.Duration(seconds) * time.Second), nil
}

// LinkValid reports whether the presigned link is still within its lifetime at now.
func LinkValid(rawURL string, now time.Time) bool {
	expiry, err := LinkExpiry(rawURL)
	if err != nil {
		return false
	}
	return now.Before(expiry)
}
