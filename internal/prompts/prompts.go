package prompts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// CorrectionToolName is the tool the correction model is forced to call.
const CorrectionToolName = "english_conversation_teacher"

const correctionToolTemplate = `You are an excellent English conversation teacher.
You will receive the English words uttered by English conversation students.
Pay attention to grammar, word usage, and phrasing, and output natural and correct English for oral conversation.
Also explain in {{language}} which parts have changed and how, giving specific reasons for the changes. Make sure to explain in {{language}}.
Do not explain symbols such as periods, singular or plural, past tense, or filler words such as "um", "er", or "uh".
Do not output "changes" for parts that have not changed.
No preamble or summary needed.`

const partnerTemplate = `You are an excellent English teacher.
You receive English words spoken by your English student.
There may be problems with grammar, usage, and phrasing, but understand the intention and reply in English according to the given situation.
Within the given situation, talk deeply about one theme and change the topic when appropriate. Do not ask too many questions, but encourage the other person to ask you questions.

Answer in about 20 words and use words that a junior high school student can understand.
Do not answer in narrative text.
-------

{{situation}}`

// CorrectionInput is the argument object of the correction tool call.
type CorrectionInput struct {
	Corrected string `json:"naturalAndCorrectEnglishSentences" jsonschema:"description=Natural and correct English sentences"`
	Changes   string `json:"changes" jsonschema:"description=Changes made from the original text with the explanation"`
}

var ErrEmptyCorrection = errors.New("correction tool returned no corrected sentence")

// DecodeCorrection parses the arguments of a correction tool call.
func DecodeCorrection(raw []byte) (CorrectionInput, error) {
	var input CorrectionInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return CorrectionInput{}, fmt.Errorf("decode correction arguments: %w", err)
	}
	input.Corrected = strings.TrimSpace(input.Corrected)
	input.Changes = strings.TrimSpace(input.Changes)
	if input.Corrected == "" {
		return CorrectionInput{}, ErrEmptyCorrection
	}
	return input, nil
}

// CorrectionTool describes the forced tool call used for corrections.
type CorrectionTool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// NewCorrectionTool renders the tool description for the given explanation
// language and reflects the input schema from CorrectionInput.
func NewCorrectionTool(language string) (CorrectionTool, error) {
	if language == "" {
		language = "English"
	}
	description, err := Render(correctionToolTemplate, map[string]string{"language": language})
	if err != nil {
		return CorrectionTool{}, err
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	return CorrectionTool{
		Name:        CorrectionToolName,
		Description: description,
		Schema:      reflector.Reflect(&CorrectionInput{}),
	}, nil
}

// PartnerInstructions renders the conversation-partner prompt for a situation.
func PartnerInstructions(situation string) (string, error) {
	return Render(partnerTemplate, map[string]string{"situation": situation})
}
