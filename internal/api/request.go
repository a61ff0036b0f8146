package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// tradeRequest accepts {"all": true|"true"} or {"quantity": "1.5"|1.5}
type tradeRequest struct {
	All      flexBool     `json:"all"`
	Quantity decimalField `json:"quantity"`
}

type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("all: %q is not a boolean", s)
	}
	*b = flexBool(v)
	return nil
}

// decimalField keeps the literal as written so precision can be checked later
type decimalField string

func (d *decimalField) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = decimalField(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	*d = decimalField(n.String())
	return nil
}
