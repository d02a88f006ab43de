package chat

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-convo/internal/database"
)

// EncodeCursor serializes a message watermark into an opaque token.
func EncodeCursor(w database.Watermark) string {
	raw := strconv.FormatInt(w.CreatedAt.UnixMilli(), 10) + ":" + strconv.Itoa(w.Id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token
// decodes to nil, meaning the newest page.
func DecodeCursor(cursor string) (*database.Watermark, error) {
	if cursor == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidArgument)
	}

	ms, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidArgument)
	}

	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor timestamp", ErrInvalidArgument)
	}
	msgId, err := strconv.Atoi(id)
	if err != nil || msgId <= 0 {
		return nil, fmt.Errorf("%w: malformed cursor id", ErrInvalidArgument)
	}

	return &database.Watermark{
		CreatedAt: time.UnixMilli(millis).UTC(),
		Id:        msgId,
	}, nil
}
