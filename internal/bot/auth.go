package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// roleAllowed reports whether any of the member's role IDs maps to an
// allowed role. Allowed entries match either a role name or a raw role
// ID, so config works with both.
func roleAllowed(memberRoleIDs []string, guildRoles []*discordgo.Role, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}

	names := make(map[string]string, len(guildRoles))
	for _, r := range guildRoles {
		names[r.ID] = r.Name
	}

	for _, id := range memberRoleIDs {
		if allowedSet[id] || allowedSet[names[id]] {
			return true
		}
	}
	return false
}

// authorize checks the interaction member against the allowed roles.
func (b *Bot) authorize(i *discordgo.InteractionCreate) error {
	if len(b.opts.AllowedRoles) == 0 {
		return nil
	}
	if i.Member == nil {
		return fmt.Errorf("%w: not a guild interaction", ErrUnauthorized)
	}

	roles, err := b.guildRoles()
	if err != nil {
		return fmt.Errorf("resolving guild roles: %w", err)
	}
	if !roleAllowed(i.Member.Roles, roles, b.opts.AllowedRoles) {
		return fmt.Errorf("%w: requires one of %v", ErrUnauthorized, b.opts.AllowedRoles)
	}
	return nil
}

func (b *Bot) guildRoles() ([]*discordgo.Role, error) {
	if guild, err := b.session.State.Guild(b.opts.GuildID); err == nil && len(guild.Roles) > 0 {
		return guild.Roles, nil
	}
	return b.session.GuildRoles(b.opts.GuildID)
}

// resolveCategory returns the category a channel lives under. For a
// thread, parent is the text channel the thread hangs off; for a
// regular channel, parent is nil and the channel's own ParentID is the
// category.
func resolveCategory(ch, parent *discordgo.Channel) string {
	if ch == nil {
		return ""
	}
	if ch.IsThread() {
		if parent == nil {
			return ""
		}
		return parent.ParentID
	}
	return ch.ParentID
}

// checkCategory enforces the chat-category restriction for channelID.
func (b *Bot) checkCategory(channelID string) error {
	if b.opts.ChatCategoryID == "" {
		return nil
	}

	ch, err := b.channel(channelID)
	if err != nil {
		return fmt.Errorf("resolving channel %s: %w", channelID, err)
	}

	var parent *discordgo.Channel
	if ch.IsThread() && ch.ParentID != "" {
		if parent, err = b.channel(ch.ParentID); err != nil {
			return fmt.Errorf("resolving parent of %s: %w", channelID, err)
		}
	}

	if resolveCategory(ch, parent) != b.opts.ChatCategoryID {
		return fmt.Errorf("%w: channel %s is outside the chat category", ErrWrongChannel, channelID)
	}
	return nil
}

// channel resolves a channel from the gateway state cache, falling
// back to the REST API.
func (b *Bot) channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := b.session.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return b.session.Channel(channelID)
}
