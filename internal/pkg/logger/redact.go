package logger

// RedactPhone masks an E.164 phone number for safe logging.
// "+14155550001" → "+1415***0001"
// Values too short to be a real number are fully masked.
func RedactPhone(phone string) string {
	if len(phone) < 8 {
		return "***"
	}
	return phone[:5] + "***" + phone[len(phone)-4:]
}
