package assistant

import (
	"fmt"
	"strings"

	"inspo/inspo/utils/htmltext"
	"inspo/inspo/utils/types"

	"github.com/magiconair/properties"
)

const ideaDetailLimit = 200

const defaultPromptProperties = `
assistant_name = Inspo
assistant_role = You are ${assistant_name}, a development assistant embedded in a project workspace. \
  You help the user turn the ideas linked to this project into working software.
no_ideas = (no ideas linked yet)
closing = Help with the user's questions in the context of the project and its connected ideas. \
  Focus on practical development guidance and on how the current project state aligns with the original ideas.
`

// Prompt holds the fixed parts of the system message.
type Prompt struct {
	Role    string
	NoIdeas string
	Closing string
}

// LoadPrompt reads the built-in prompt and overlays the properties file at path, if any.
func LoadPrompt(path string) (Prompt, error) {
	props := properties.MustLoadString(defaultPromptProperties)
	if path != "" {
		override, err := properties.LoadFile(path, properties.UTF8)
		if err != nil {
			return Prompt{}, fmt.Errorf("load prompt file: %w", err)
		}
		props.Merge(override)
	}
	return Prompt{
		Role:    props.GetString("assistant_role", ""),
		NoIdeas: props.GetString("no_ideas", ""),
		Closing: props.GetString("closing", ""),
	}, nil
}

// System renders the system message for a project.
func (p Prompt) System(pc types.ProjectContext) string {
	var b strings.Builder
	b.WriteString(p.Role)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Project: %s\n", pc.Name)
	fmt.Fprintf(&b, "Description: %s\n", htmltext.Plain(pc.Description))
	fmt.Fprintf(&b, "Location: %s\n", pc.FolderPath)
	b.WriteString("\nConnected Ideas:\n")
	if len(pc.Ideas) == 0 {
		b.WriteString(p.NoIdeas + "\n")
	}
	for _, idea := range pc.Ideas {
		fmt.Fprintf(&b, "- %s: %s\n", idea.Title, htmltext.Plain(idea.Summary))
		fmt.Fprintf(&b, "  Details: %s\n", htmltext.Truncate(htmltext.Plain(idea.Description), ideaDetailLimit))
	}
	b.WriteString("\n")
	b.WriteString(p.Closing)
	return b.String()
}
