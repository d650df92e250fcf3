package ai

import "strings"

// ImageIntentSentinel is the exact classification reply that means the user
// wants an image.
const ImageIntentSentinel = "[IMAGE]"

// IntentInstructions asks the model to classify the user's last prompt.
const IntentInstructions = `You are an intuitive assistant helping the user with a project. Your only job is to determine the primary intent of the user's last prompt.
If and only if you are absolutely certain the user's primary intent is to see an image, respond with exactly the string "` + ImageIntentSentinel + `". Otherwise, respond with a short description of their intent.`

// KeywordInstructions turns a conversational request into an image prompt.
const KeywordInstructions = `You are an assistant helping the user generate an image from a description. Take the user's prompt and reply with a valid image prompt: a comma-separated list of keywords describing the desired image. Example keywords:
- photography
- fun
- scary
- comics
- high quality
- highres
- art
- dull colors
- [name of a photographer]
- [name of a design studio]
- [visual adjective]
- [style of the image]
Items in brackets ([]) should be replaced with an appropriate suggestion.
Respond with the image prompt only. Do not respond conversationally.`

// TextInstructions is the system prompt for regular answers.
const TextInstructions = "The following is a conversation with an AI assistant. The assistant is helpful, creative, clever, and very friendly. If the response involves code, use markdown format with ```(language) blocks."

// IsImageIntent reports whether a classification reply confirms image intent.
func IsImageIntent(reply string) bool {
	return strings.TrimSpace(reply) == ImageIntentSentinel
}

// CleanKeywords normalises a keyword reply into "a, b, c" form. Bullet and
// newline separated replies are accepted.
func CleanKeywords(reply string) string {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		f = strings.TrimLeft(f, "-*• ")
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, ", ")
}
