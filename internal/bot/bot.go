package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/recall-bot/internal/category"
	"github.com/xaenox/recall-bot/internal/models"
	"github.com/xaenox/recall-bot/internal/pipeline"
	"github.com/xaenox/recall-bot/internal/search"
	"github.com/xaenox/recall-bot/internal/storage"
	"go.uber.org/zap"
)

type Bot struct {
	api        *tgbotapi.BotAPI
	pipeline   *pipeline.Pipeline
	search     *search.Engine
	categories *category.Manager
	storage    storage.Storage
	logger     *zap.Logger
}

func New(token string, p *pipeline.Pipeline, s *search.Engine, c *category.Manager, store storage.Storage, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:        api,
		pipeline:   p,
		search:     s,
		categories: c,
		storage:    store,
		logger:     logger,
	}, nil
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}

		go b.handleMessage(update.Message)
	}

	return nil
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	ctx := context.Background()

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	req, err := b.buildIngestRequest(message)
	if err != nil {
		b.logger.Error("Failed to build ingest request",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't read that message type.")
		return
	}

	msg, err := b.pipeline.Ingest(ctx, req)
	if errors.Is(err, storage.ErrDuplicateMessage) {
		// Idempotent re-delivery: the first capture stands.
		b.sendMessage(message.Chat.ID, "Already saved that one. 👍")
		return
	}
	if err != nil {
		b.logger.Error("Failed to ingest message",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't save your message. Please try again.")
		return
	}

	processed, err := b.pipeline.Process(ctx, msg)
	if err != nil {
		b.logger.Error("Failed to process message",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.Int64("user_id", message.From.ID))
		// The skeleton is already persisted; the capture still succeeded.
		b.sendMessage(message.Chat.ID, "Saved! Enrichment is incomplete, but your message is stored.")
		return
	}

	b.sendCaptureResponse(ctx, message.Chat.ID, message.MessageID, processed)
}

func (b *Bot) buildIngestRequest(message *tgbotapi.Message) (pipeline.IngestRequest, error) {
	req := pipeline.IngestRequest{
		UserID:           message.From.ID,
		ChannelMessageID: strconv.Itoa(message.MessageID),
		Sender:           message.From.UserName,
	}

	switch {
	case len(message.Photo) > 0:
		// Last photo size is the largest.
		url, err := b.api.GetFileDirectURL(message.Photo[len(message.Photo)-1].FileID)
		if err != nil {
			return req, fmt.Errorf("failed to resolve photo url: %w", err)
		}
		req.Modality = models.ImageModality
		req.ContentRef = url
	case message.Voice != nil:
		url, err := b.api.GetFileDirectURL(message.Voice.FileID)
		if err != nil {
			return req, fmt.Errorf("failed to resolve voice url: %w", err)
		}
		req.Modality = models.AudioModality
		req.ContentRef = url
	case message.Audio != nil:
		url, err := b.api.GetFileDirectURL(message.Audio.FileID)
		if err != nil {
			return req, fmt.Errorf("failed to resolve audio url: %w", err)
		}
		req.Modality = models.AudioModality
		req.ContentRef = url
	case message.Document != nil:
		url, err := b.api.GetFileDirectURL(message.Document.FileID)
		if err != nil {
			return req, fmt.Errorf("failed to resolve document url: %w", err)
		}
		req.Modality = models.DocumentModality
		req.ContentRef = url
	default:
		content := message.Text
		if message.Caption != "" {
			content = message.Caption
		}
		if content == "" {
			return req, fmt.Errorf("unsupported message type")
		}
		req.Modality = models.TextModality
		req.ContentRef = content
	}

	return req, nil
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "search":
		b.handleSearch(ctx, message)
	case "categories":
		b.handleCategories(ctx, message)
	case "rename_category":
		b.handleRenameCategory(ctx, message)
	case "delete_category":
		b.handleDeleteCategory(ctx, message)
	case "merge_categories":
		b.handleMergeCategories(ctx, message)
	case "history":
		b.handleHistory(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to RecallBot! 📝
Send me anything - text, photos, voice notes, or documents - and I'll classify it, tag it, and make it searchable.

Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/search <query> - Search your saved messages
/categories - Show your categories
/rename_category <old> -> <new> - Rename a category
/delete_category <name> - Delete a category (messages move to Uncategorized)
/merge_categories <from> -> <into> - Merge two categories
/history - Show your recent messages

You can send:
- Text messages
- Photos (I'll read any text in them)
- Voice messages (I'll transcribe them)
- PDF and text documents`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleSearch(ctx context.Context, message *tgbotapi.Message) {
	query := strings.TrimSpace(message.CommandArguments())
	if query == "" {
		b.sendMessage(message.Chat.ID, "Usage: /search <query>")
		return
	}

	results, err := b.search.Search(ctx, message.From.ID, query, storage.MessageFilter{}, 0)
	if err != nil {
		b.logger.Error("Search failed",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, the search failed. Please try again.")
		return
	}

	if len(results) == 0 {
		b.sendMessage(message.Chat.ID, "Nothing found for that query.")
		return
	}

	response := "*Search results:*\n\n"
	for _, result := range results {
		response += b.formatMessage(ctx, result.Message)
	}

	b.sendMarkdown(message.Chat.ID, response)
}

func (b *Bot) handleCategories(ctx context.Context, message *tgbotapi.Message) {
	categories, err := b.categories.List(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to list categories",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, failed to retrieve your categories.")
		return
	}

	if len(categories) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any categories yet.")
		return
	}

	response := "*Your categories:*\n"
	for _, c := range categories {
		response += fmt.Sprintf("%s \\(%d\\)\n", escapeMarkdown(c.Name), c.MessageCount)
	}

	b.sendMarkdown(message.Chat.ID, response)
}

func (b *Bot) handleRenameCategory(ctx context.Context, message *tgbotapi.Message) {
	from, to, ok := splitArrowArgs(message.CommandArguments())
	if !ok {
		b.sendMessage(message.Chat.ID, "Usage: /rename_category <old name> -> <new name>")
		return
	}

	c, err := b.storage.GetCategoryByName(ctx, message.From.ID, from)
	if err != nil {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Category %q not found.", from))
		return
	}

	err = b.categories.Rename(ctx, message.From.ID, c.ID, to)
	if errors.Is(err, category.ErrNameConflict) {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("You already have a category named %q.", to))
		return
	}
	if err != nil {
		b.logger.Error("Failed to rename category",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, the rename failed.")
		return
	}

	b.sendMessage(message.Chat.ID, fmt.Sprintf("Renamed %q to %q.", from, to))
}

func (b *Bot) handleDeleteCategory(ctx context.Context, message *tgbotapi.Message) {
	name := strings.TrimSpace(message.CommandArguments())
	if name == "" {
		b.sendMessage(message.Chat.ID, "Usage: /delete_category <name>")
		return
	}

	c, err := b.storage.GetCategoryByName(ctx, message.From.ID, name)
	if err != nil {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Category %q not found.", name))
		return
	}

	moved, err := b.categories.Delete(ctx, message.From.ID, c.ID, "")
	if errors.Is(err, category.ErrNoReplacement) {
		b.sendMessage(message.Chat.ID, "That category can't be deleted without a replacement.")
		return
	}
	if err != nil {
		b.logger.Error("Failed to delete category",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, the delete failed.")
		return
	}

	b.sendMessage(message.Chat.ID,
		fmt.Sprintf("Deleted %q. %d message(s) moved to %s.", name, moved, models.UncategorizedName))
}

func (b *Bot) handleMergeCategories(ctx context.Context, message *tgbotapi.Message) {
	from, to, ok := splitArrowArgs(message.CommandArguments())
	if !ok {
		b.sendMessage(message.Chat.ID, "Usage: /merge_categories <from> -> <into>")
		return
	}

	fromCat, err := b.storage.GetCategoryByName(ctx, message.From.ID, from)
	if err != nil {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Category %q not found.", from))
		return
	}
	toCat, err := b.storage.GetCategoryByName(ctx, message.From.ID, to)
	if err != nil {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Category %q not found.", to))
		return
	}

	moved, err := b.categories.Merge(ctx, message.From.ID, fromCat.ID, toCat.ID)
	if err != nil {
		b.logger.Error("Failed to merge categories",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, the merge failed.")
		return
	}

	b.sendMessage(message.Chat.ID,
		fmt.Sprintf("Merged %q into %q (%d message(s) moved).", from, to, moved))
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	messages, err := b.storage.ListMessages(ctx, message.From.ID, storage.MessageFilter{})
	if err != nil {
		b.logger.Error("Failed to get user messages",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your message history.")
		return
	}

	if len(messages) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any messages yet.")
		return
	}

	if len(messages) > 5 {
		messages = messages[:5]
	}

	response := "*Your recent messages:*\n\n"
	for _, msg := range messages {
		response += b.formatMessage(ctx, msg)
	}

	b.sendMarkdown(message.Chat.ID, response)
}

func (b *Bot) sendCaptureResponse(ctx context.Context, chatID int64, replyToID int, msg *models.Message) {
	categoryName := models.UncategorizedName
	if msg.CategoryID != nil {
		if c, err := b.storage.GetCategory(ctx, msg.UserID, *msg.CategoryID); err == nil {
			categoryName = c.Name
		}
	}

	text := fmt.Sprintf("*Category:* %s\n", escapeMarkdown("#"+strings.ReplaceAll(categoryName, " ", "_")))
	if len(msg.Tags) > 0 {
		formatted := make([]string, len(msg.Tags))
		for i, tag := range msg.Tags {
			formatted[i] = escapeMarkdown("#" + strings.ReplaceAll(tag, " ", "_"))
		}
		text += fmt.Sprintf("*Tags:* %s\n", strings.Join(formatted, " "))
	}
	if msg.Status == models.StatusExtractionFailed {
		text += "\n_I couldn't read the content, but your message is saved and searchable\\._"
	}

	reply := tgbotapi.NewMessage(chatID, text)
	reply.ParseMode = "MarkdownV2"
	reply.ReplyToMessageID = replyToID

	if _, err := b.api.Send(reply); err != nil {
		b.logger.Error("Failed to send capture response",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) formatMessage(ctx context.Context, msg *models.Message) string {
	categoryName := models.UncategorizedName
	if msg.CategoryID != nil {
		if c, err := b.storage.GetCategory(ctx, msg.UserID, *msg.CategoryID); err == nil {
			categoryName = c.Name
		}
	}

	preview := msg.ExtractedText
	if preview == "" {
		preview = fmt.Sprintf("[%s message]", msg.Modality)
	}
	if len(preview) > 150 {
		preview = preview[:150] + "..."
	}

	out := fmt.Sprintf("*%s*\n", escapeMarkdown(categoryName))
	out += fmt.Sprintf("_%s_\n", escapeMarkdown(preview))
	if len(msg.Tags) > 0 {
		tags := make([]string, len(msg.Tags))
		for i, tag := range msg.Tags {
			tags[i] = "#" + escapeMarkdown(strings.ReplaceAll(tag, " ", "_"))
		}
		out += fmt.Sprintf("Tags: %s\n", strings.Join(tags, " "))
	}
	return out + "\n"
}

// splitArrowArgs parses command arguments of the form "left -> right".
func splitArrowArgs(args string) (string, string, bool) {
	parts := strings.SplitN(args, "->", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	left := strings.TrimSpace(parts[0])
	right := strings.TrimSpace(parts[1])
	if left == "" || right == "" {
		return "", "", false
	}
	return left, right, true
}

// escapeMarkdown escapes special characters for MarkdownV2.
func escapeMarkdown(text string) string {
	specialChars := []string{"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
