package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/engibot/engi/internal/knowledge"
	"github.com/engibot/engi/internal/vector"
)

// formatKnowledgeList renders a user's knowledge bases for /list.
func formatKnowledgeList(records []knowledge.Record) string {
	if len(records) == 0 {
		return "You have no knowledge bases yet. Create one with `/ingest`."
	}

	var b strings.Builder
	b.WriteString("Your knowledge bases:\n")
	for _, r := range records {
		fmt.Fprintf(&b, "- **%s** from <%s> (ingested %s)\n",
			r.Name, r.SourceURL, r.IngestedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}

// formatSources renders a deduplicated source footer for /ask answers.
func formatSources(matches []vector.Match) string {
	seen := make(map[string]bool)
	var sources []string
	for _, m := range matches {
		src := m.Metadata["source"]
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nSources:\n")
	for _, src := range sources {
		fmt.Fprintf(&b, "- <%s>\n", src)
	}
	return b.String()
}

func helpEmbed(botName string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s commands", botName),
		Description: "Chat with me by posting in my category. " +
			"Long replies are split so code blocks stay intact.",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "/ask", Value: "Answer a question from ingested documentation."},
			{Name: "/ingest", Value: "Crawl a documentation site into a knowledge base (restricted)."},
			{Name: "/list", Value: "List your knowledge bases."},
			{Name: "/delete", Value: "Delete one of your knowledge bases (restricted)."},
			{Name: "/help", Value: "Show this message."},
		},
	}
}
