package prompts

// SummaryData is the input of the scene-summary template.
type SummaryData struct {
	Title       string
	Scene       string
	Codex       string
	TargetWords int
}

// TitleData is the input of the title template.
type TitleData struct {
	Text     string
	MaxWords int
}

// SceneBeatData is the input of the scene-beat template.
type SceneBeatData struct {
	Beat         string
	PreviousText string
	Codex        string
	TargetWords  int
}

// ChatData is the input of the chat template.
type ChatData struct {
	Context string
	Message string
}
