package extraction

import "fmt"

// SystemPrompt instructs the model to return a flat contact record.
const SystemPrompt = `You extract contact details from the OCR text of a business card.

Return ONLY one JSON object, no markdown and no explanation:
{
  "company": "string or null",
  "name": "string (required)",
  "position": "string or null",
  "email": "string or null",
  "confidence": 0.0
}

Rules:
- "name" is the person's full name. It is required.
- "position" is the job title exactly as printed.
- "confidence" is a number between 0 and 1 reflecting OCR quality and how complete the record is.
- Use null for anything that is missing or unreadable. Do not invent values.
- OCR often confuses similar letters (f/t, rn/m, l/1, O/0). Compare the name with the local part
  of the email address: if the email is built from the name (for example "jeff.fu@..." next to the
  OCR name "Jeft Fu") and the two disagree, use the spelling from the email ("Jeff Fu").
  Keep the OCR spelling when the email only holds initials or an abbreviation ("jf@...", "jeffrey.f@...").
- Never change the email address itself.`

const userPromptTemplate = `Extract the business card information from this OCR text:

---
%s
---

Return only the JSON object.`

// UserPrompt embeds the recognized text into the request prompt.
func UserPrompt(ocrText string) string {
	return fmt.Sprintf(userPromptTemplate, ocrText)
}
