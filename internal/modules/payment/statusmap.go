package payment

import "strings"

// ── Status Normalisers ────────────────────────────────────────────────────────
// Each provider reports outcomes in its own vocabulary; these map them onto
// the internal three-state enum. All matching is case-insensitive. Unknown
// tokens stay PENDING so an unexpected vocabulary never fakes a terminal.

func normaliseCardBankStatus(native string) TxStatus {
	s := strings.ToLower(native)
	switch {
	case strings.Contains(s, "success"), strings.Contains(s, "paid"), strings.Contains(s, "approved"):
		return TxSuccess
	case strings.Contains(s, "fail"), strings.Contains(s, "declined"), strings.Contains(s, "error"):
		return TxFailed
	default:
		return TxPending
	}
}

// normaliseMpesaResult maps the daraja ResultCode: exactly 0 means the STK
// push was completed, any other code is a definitive failure, and an absent
// code (nil) means the callback carried no outcome yet.
func normaliseMpesaResult(resultCode *int) TxStatus {
	if resultCode == nil {
		return TxPending
	}
	if *resultCode == 0 {
		return TxSuccess
	}
	return TxFailed
}

func normaliseAirtelStatus(native string) TxStatus {
	s := strings.ToLower(native)
	switch {
	case strings.Contains(s, "success"), strings.Contains(s, "completed"):
		return TxSuccess
	case strings.Contains(s, "failed"), strings.Contains(s, "rejected"):
		return TxFailed
	default:
		return TxPending
	}
}

func normalisePayPalEvent(eventType, resourceStatus string) TxStatus {
	et := strings.ToLower(eventType)
	rs := strings.ToUpper(resourceStatus)
	switch {
	case strings.Contains(et, "payment.capture.completed"), rs == "COMPLETED":
		return TxSuccess
	case strings.Contains(et, "payment.capture.denied"), strings.Contains(et, "order.cancelled"), rs == "VOIDED":
		return TxFailed
	default:
		return TxPending
	}
}
