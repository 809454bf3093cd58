package response

import "emovoice/internal/domain"

const crisisFallback = "I hear you, and I'm really glad you're sharing this with me. " +
	"What you're feeling sounds really heavy. " +
	"Please know you don't have to carry this alone. " +
	"Reaching out to someone you trust, like a friend or counselor, can help."

var fallbacks = map[string]string{
	domain.LabelSadness: "I can hear how hard things are feeling right now. " +
		"It's okay to feel this sadness. " +
		"If it feels right, you might try taking a few slow, deep breaths.",
	domain.LabelAnger: "I understand you're feeling frustrated. " +
		"Those feelings are valid. " +
		"Would it help to step away for a moment and take some slow breaths?",
	domain.LabelFear: "That sounds scary, and it makes sense you're feeling afraid. " +
		"You're safe in this moment. " +
		"Try feeling your feet on the ground. You're here, right now.",
	domain.LabelAnxiety: "I hear that things feel overwhelming right now. " +
		"That anxious feeling is hard to carry. " +
		"If you can, try breathing out slowly, longer than you breathe in.",
	domain.LabelFrustration: "It sounds like you're feeling stuck and frustrated. " +
		"That's a really difficult place to be. " +
		"Sometimes stepping back for a moment can help things feel clearer.",
	domain.LabelJoy: "It's wonderful to hear that positive energy in your voice! " +
		"These moments of happiness are precious. " +
		"Take a moment to really savor this feeling.",
	domain.LabelNeutral: "Thank you for sharing what's on your mind. " +
		"I'm here to listen whenever you need. " +
		"How are you feeling in this moment?",
}

// Fallback returns the static reply for a context. Crisis contexts always
// get the crisis text; unknown labels get the neutral text.
func Fallback(rc domain.ResponseContext) string {
	if rc.RequiresCrisis || rc.IntensityLevel == domain.LevelCrisis {
		return crisisFallback
	}
	if text, ok := fallbacks[domain.NormalizeLabel(rc.PrimaryEmotion)]; ok {
		return text
	}
	return fallbacks[domain.LabelNeutral]
}
