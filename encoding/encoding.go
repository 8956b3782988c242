// Package encoding provides base64+JSON transport encoding for the x402
// payment headers: X-PAYMENT, PAYMENT-REQUIRED and X-PAYMENT-RESPONSE.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/myceliasignal/slo"
)

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string
// suitable for the X-PAYMENT header.
func EncodePayment(payment slo.PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts a base64-encoded JSON string to a PaymentPayload.
func DecodePayment(encoded string) (slo.PaymentPayload, error) {
	var payment slo.PaymentPayload

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("failed to unmarshal payment: %w", err)
	}

	return payment, nil
}

// EVMPayloadOf re-decodes the loosely typed Payload field of a
// PaymentPayload into its EVM form. json.Unmarshal leaves Payload as a
// map[string]any, so a marshal round-trip is the cheapest exact decode.
func EVMPayloadOf(payment slo.PaymentPayload) (slo.EVMPayload, error) {
	var evm slo.EVMPayload

	raw, err := json.Marshal(payment.Payload)
	if err != nil {
		return evm, fmt.Errorf("failed to re-marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &evm); err != nil {
		return evm, fmt.Errorf("failed to decode EVM payload: %w", err)
	}
	return evm, nil
}

// EncodeSettlement converts a SettlementResponse to a base64-encoded JSON
// string for the X-PAYMENT-RESPONSE header.
func EncodeSettlement(settlement slo.SettlementResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string to a SettlementResponse.
func DecodeSettlement(encoded string) (slo.SettlementResponse, error) {
	var settlement slo.SettlementResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return settlement, nil
}

// EncodeRequirements converts a PaymentRequirementsResponse to base64-encoded
// JSON for the PAYMENT-REQUIRED header. The Error field is omitted from the
// header form: the header carries only the protocol version and the accepts
// list.
func EncodeRequirements(requirements slo.PaymentRequirementsResponse) (string, error) {
	header := struct {
		X402Version int                      `json:"x402Version"`
		Accepts     []slo.PaymentRequirement `json:"accepts"`
	}{
		X402Version: requirements.X402Version,
		Accepts:     requirements.Accepts,
	}
	reqJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(reqJSON), nil
}

// DecodeRequirements converts base64-encoded JSON to a PaymentRequirementsResponse.
func DecodeRequirements(encoded string) (slo.PaymentRequirementsResponse, error) {
	var requirements slo.PaymentRequirementsResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return requirements, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &requirements); err != nil {
		return requirements, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}

	return requirements, nil
}
