// Package privacy masks personally identifying values before they reach
// logs. Masking keeps a short visible suffix so operators can still
// correlate entries for one contact or session without exposing the value.
package privacy

import (
	"fmt"
	"strings"
)

// MaskPhoneNumber hides all but the last 4 digits.
// Example: "+14155550123" -> "+*******0123"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		digits := phone[1:]
		if len(digits) <= 4 {
			return "+" + strings.Repeat("*", len(digits))
		}
		return "+" + strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
	}

	return maskSuffix(phone, 4)
}

// MaskContactID masks a contact identifier. Numeric identifiers are treated
// as phone numbers so the same suffix stays visible in both shapes.
func MaskContactID(contactID string) string {
	if contactID == "" {
		return ""
	}
	if strings.HasPrefix(contactID, "+") || (len(contactID) >= 10 && isNumeric(contactID)) {
		return MaskPhoneNumber(contactID)
	}
	return maskSuffix(contactID, 4)
}

// MaskTicketID keeps the last 4 characters of a ticket identifier.
func MaskTicketID(ticketID string) string {
	return maskSuffix(ticketID, 4)
}

// MaskSessionID keeps enough of a session id to tell sessions apart in logs.
// Hyphenated ids keep their first segment.
// Example: "acme-support-7f3a" -> "acme-*******-*f3a"
func MaskSessionID(sessionID string) string {
	if sessionID == "" {
		return ""
	}

	parts := strings.Split(sessionID, "-")
	if len(parts) >= 2 {
		result := parts[0]
		for i := 1; i < len(parts)-1; i++ {
			result += "-" + strings.Repeat("*", len(parts[i]))
		}
		return result + "-" + maskSuffix(parts[len(parts)-1], 3)
	}

	return maskSuffix(sessionID, 3)
}

// MaskQRCode replaces a QR payload entirely. The payload is a pairing
// credential; even a suffix would leak material, so only the length survives.
func MaskQRCode(qr string) string {
	if qr == "" {
		return ""
	}
	return fmt.Sprintf("<qr:%d bytes>", len(qr))
}

// maskSuffix masks a string showing only the last keepLast characters.
func maskSuffix(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// MaskSensitiveFields applies the appropriate masking to well-known logging
// field names. Unknown keys pass through untouched.
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{})
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}

		switch k {
		case "phone", "phone_number", "number":
			masked[k] = MaskPhoneNumber(s)
		case "contact_id", "contactId":
			masked[k] = MaskContactID(s)
		case "ticket_id", "ticketId":
			masked[k] = MaskTicketID(s)
		case "session", "session_id", "sessionId":
			masked[k] = MaskSessionID(s)
		case "qr_code", "qrCode":
			masked[k] = MaskQRCode(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
