package session

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// Built-in data keys. Everything under the failed. and claim. prefixes is
// owned by the session manager and the claim queue.
const (
	KeyFailedCode    = "failed.code"
	KeyFailedReason  = "failed.reason"
	KeyClaimStatus   = "claim.status"
	KeyClaimQueueIdx = "claim.queueIdx"
	KeyClaimTxHash   = "claim.txhash"
	KeyClaimTxBlock  = "claim.txblock"
	KeyClaimTxFee    = "claim.txfee"
)

var reservedPrefixes = []string{"failed.", "claim."}

// Data is the per-session scratch space. Known keys are typed fields;
// module-contributed keys live in Modules. Both flatten into one JSON object
// keyed by dotted names.
type Data struct {
	FailedCode    string
	FailedReason  string
	ClaimStatus   ClaimStatus
	ClaimQueueIdx int64
	ClaimTxHash   string
	ClaimTxBlock  uint64
	ClaimTxFee    string

	// Modules holds module-contributed keys such as "captcha.ident".
	Modules map[string]any
}

// Get returns the value stored under key, typed fields included.
func (d *Data) Get(key string) (any, bool) {
	switch key {
	case KeyFailedCode:
		return d.FailedCode, d.FailedCode != ""
	case KeyFailedReason:
		return d.FailedReason, d.FailedReason != ""
	case KeyClaimStatus:
		return d.ClaimStatus, d.ClaimStatus != ""
	case KeyClaimQueueIdx:
		return d.ClaimQueueIdx, d.ClaimQueueIdx != 0
	case KeyClaimTxHash:
		return d.ClaimTxHash, d.ClaimTxHash != ""
	case KeyClaimTxBlock:
		return d.ClaimTxBlock, d.ClaimTxBlock != 0
	case KeyClaimTxFee:
		return d.ClaimTxFee, d.ClaimTxFee != ""
	}
	v, ok := d.Modules[key]
	return v, ok
}

// SetModule stores a module-contributed value. Built-in prefixes are rejected.
func (d *Data) SetModule(key string, value any) error {
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(key, prefix) {
			return fmt.Errorf("%w: %s", ErrReservedDataKey, key)
		}
	}
	if d.Modules == nil {
		d.Modules = make(map[string]any)
	}
	d.Modules[key] = value
	return nil
}

// Clone returns a copy that shares no maps with d.
func (d Data) Clone() Data {
	c := d
	if d.Modules != nil {
		c.Modules = maps.Clone(d.Modules)
	}
	return c
}

// Map flattens the data into its dotted-key form.
func (d Data) Map() map[string]any {
	out := make(map[string]any, len(d.Modules)+7)
	maps.Copy(out, d.Modules)
	if d.FailedCode != "" {
		out[KeyFailedCode] = d.FailedCode
	}
	if d.FailedReason != "" {
		out[KeyFailedReason] = d.FailedReason
	}
	if d.ClaimStatus != "" {
		out[KeyClaimStatus] = d.ClaimStatus
	}
	if d.ClaimQueueIdx != 0 {
		out[KeyClaimQueueIdx] = d.ClaimQueueIdx
	}
	if d.ClaimTxHash != "" {
		out[KeyClaimTxHash] = d.ClaimTxHash
	}
	if d.ClaimTxBlock != 0 {
		out[KeyClaimTxBlock] = d.ClaimTxBlock
	}
	if d.ClaimTxFee != "" {
		out[KeyClaimTxFee] = d.ClaimTxFee
	}
	return out
}

// MarshalJSON encodes the flattened dotted-key form.
func (d Data) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

// UnmarshalJSON routes known keys into typed fields and keeps the rest.
func (d *Data) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*d = Data{}
	for key, value := range raw {
		var err error
		switch key {
		case KeyFailedCode:
			err = json.Unmarshal(value, &d.FailedCode)
		case KeyFailedReason:
			err = json.Unmarshal(value, &d.FailedReason)
		case KeyClaimStatus:
			err = json.Unmarshal(value, &d.ClaimStatus)
		case KeyClaimQueueIdx:
			err = json.Unmarshal(value, &d.ClaimQueueIdx)
		case KeyClaimTxHash:
			err = json.Unmarshal(value, &d.ClaimTxHash)
		case KeyClaimTxBlock:
			err = json.Unmarshal(value, &d.ClaimTxBlock)
		case KeyClaimTxFee:
			err = json.Unmarshal(value, &d.ClaimTxFee)
		default:
			var v any
			if err = json.Unmarshal(value, &v); err == nil {
				if d.Modules == nil {
					d.Modules = make(map[string]any)
				}
				d.Modules[key] = v
			}
		}
		if err != nil {
			return fmt.Errorf("failed to decode session data key %q: %w", key, err)
		}
	}
	return nil
}
