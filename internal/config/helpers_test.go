package config

import (
	"encoding/json"
	"errors"
)

var errRejected = errors.New("rejected by validator")

func jsonUnmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
