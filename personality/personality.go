package personality

// Style groups the writing-style directions of a character.
type Style struct {
	All  []string `json:"all,omitempty"`
	Chat []string `json:"chat,omitempty"`
	Post []string `json:"post,omitempty"`
}

// ExampleMessage is a single line of an example conversation.
type ExampleMessage struct {
	User    string `json:"user"`
	Content string `json:"content"`
}

// Personality is a character definition supplied by the caller. Identical
// definitions always canonicalize to the same hash (see Hash), which is the
// dedup and cache key for prompts and agent runtimes.
type Personality struct {
	Name            string             `json:"name"`
	Bio             []string           `json:"bio,omitempty"`
	Lore            []string           `json:"lore,omitempty"`
	Knowledge       []string           `json:"knowledge,omitempty"`
	Topics          []string           `json:"topics,omitempty"`
	Adjectives      []string           `json:"adjectives,omitempty"`
	Style           Style              `json:"style,omitzero"`
	MessageExamples [][]ExampleMessage `json:"messageExamples,omitempty"`

	// ModelProvider hints which backend a stateful runtime for this
	// character should talk to. Defaults to openai.
	ModelProvider string `json:"modelProvider,omitempty"`

	// Secrets carries per-character credentials that take precedence over
	// process-wide ones when a runtime is bootstrapped.
	Secrets map[string]string `json:"secrets,omitempty"`
}

// Param describes one parameter of a function declaration.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Function is a declarative tool definition. The invocation callback stays on
// the caller's side; only this schema crosses into provider calls.
type Function struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Similes     []string         `json:"similes,omitempty"`
	Parameters  map[string]Param `json:"parameters"`
}
