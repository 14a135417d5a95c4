package prompt

import (
	"fmt"
	"strings"

	"github.com/upb/medbot/models"
)

// Placeholders substituted into Template.Instruction
const (
	ContextPlaceholder  = "{context}"
	QuestionPlaceholder = "{question}"
)

// Llama-2 chat markers
const (
	InstOpen  = "[INST]"
	InstClose = "[/INST]"
	SysOpen   = "<<SYS>>\n"
	SysClose  = "\n<</SYS>>\n\n"
)

// DefaultInstruction places the retrieved context ahead of the user question
const DefaultInstruction = "CONTEXT:\n\n" + ContextPlaceholder + "\n\nQuestion: " + QuestionPlaceholder

// DefaultSystemPrompt is used when no system prompt is configured
const DefaultSystemPrompt = `You are a helpful, respectful and honest assistant. Always answer as helpfully as possible, while being safe. Your answers should not include any harmful, unethical, racist, toxic, dangerous, or illegal content. Please ensure that your responses are socially unbiased and positive in nature.
If a question does not make any sense, or is not factually coherent, explain why instead of answering something not correct. If you don't know the answer to a question, please don't share false information.`

// Template describes how the system prompt and instruction are framed for the model
type Template struct {
	InstOpen    string `toml:"inst_open"`
	InstClose   string `toml:"inst_close"`
	SysOpen     string `toml:"sys_open"`
	SysClose    string `toml:"sys_close"`
	Instruction string `toml:"instruction"`
}

// DefaultTemplate returns the Llama-2 chat template
func DefaultTemplate() Template {
	return Template{
		InstOpen:    InstOpen,
		InstClose:   InstClose,
		SysOpen:     SysOpen,
		SysClose:    SysClose,
		Instruction: DefaultInstruction,
	}
}

// Validate checks that the instruction carries both placeholders
func (t Template) Validate() error {
	if !strings.Contains(t.Instruction, ContextPlaceholder) {
		return fmt.Errorf("instruction template is missing %s placeholder", ContextPlaceholder)
	}
	if !strings.Contains(t.Instruction, QuestionPlaceholder) {
		return fmt.Errorf("instruction template is missing %s placeholder", QuestionPlaceholder)
	}
	return nil
}

// Builder assembles the final model prompt. It holds no per-query state and is
// safe for concurrent use.
type Builder struct {
	template     Template
	systemPrompt string
}

// NewBuilder creates a Builder. An empty systemPrompt selects DefaultSystemPrompt.
func NewBuilder(template Template, systemPrompt string) (*Builder, error) {
	if err := template.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Builder{template: template, systemPrompt: systemPrompt}, nil
}

// Context collects the pieces of one query's prompt
func (b *Builder) Context(contextText, question string) models.PromptContext {
	return models.PromptContext{
		SystemPrompt: b.systemPrompt,
		ContextText:  contextText,
		Question:     question,
	}
}

// Render formats pc with the template. Substitution is single pass:
// placeholder-like text inside the context or question is left as is.
func (b *Builder) Render(pc models.PromptContext) string {
	t := b.template
	r := strings.NewReplacer(ContextPlaceholder, pc.ContextText, QuestionPlaceholder, pc.Question)

	var sb strings.Builder
	sb.Grow(len(t.InstOpen) + len(t.SysOpen) + len(pc.SystemPrompt) + len(t.SysClose) +
		len(t.Instruction) + len(pc.ContextText) + len(pc.Question) + len(t.InstClose))
	sb.WriteString(t.InstOpen)
	sb.WriteString(t.SysOpen)
	sb.WriteString(pc.SystemPrompt)
	sb.WriteString(t.SysClose)
	sb.WriteString(r.Replace(t.Instruction))
	sb.WriteString(t.InstClose)
	return sb.String()
}

// Build returns the full prompt for a context block and question
func (b *Builder) Build(contextText, question string) string {
	return b.Render(b.Context(contextText, question))
}
