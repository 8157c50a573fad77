package mailbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexcrm/mailgate/pkg/types"
)

func testAccount() *types.MailAccount {
	return &types.MailAccount{ID: "acc-1", Name: "Test User", Email: "test@example.com"}
}

func TestMockListFolders(t *testing.T) {
	m := NewMockMailbox(testAccount())
	folders, err := m.ListFolders(context.Background())
	require.NoError(t, err)
	require.Len(t, folders, 4)

	assert.Equal(t, "INBOX", folders[0].ID)
	assert.Equal(t, types.FolderInbox, folders[0].Type)
	assert.Equal(t, 3, folders[0].TotalCount)
	assert.Equal(t, 2, folders[0].UnreadCount)
}

func TestMockListMessagesNewestFirst(t *testing.T) {
	m := NewMockMailbox(testAccount())
	msgs, total, err := m.ListMessages(context.Background(), "INBOX", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].ReceivedAt.After(msgs[1].ReceivedAt))
	assert.True(t, msgs[1].ReceivedAt.After(msgs[2].ReceivedAt))
}

func TestMockListMessagesPagination(t *testing.T) {
	m := NewMockMailbox(testAccount())

	page1, total, err := m.ListMessages(context.Background(), "INBOX", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page1, 2)

	page2, _, err := m.ListMessages(context.Background(), "INBOX", 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)

	empty, _, err := m.ListMessages(context.Background(), "INBOX", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, _, err = m.ListMessages(context.Background(), "NoSuchFolder", 10, 0)
	assert.ErrorIs(t, err, ErrFolderNotFound)
}

func TestMockMarkReadAndStarred(t *testing.T) {
	m := NewMockMailbox(testAccount())
	ctx := context.Background()

	require.NoError(t, m.MarkRead(ctx, "INBOX", "2", true))
	require.NoError(t, m.MarkStarred(ctx, "INBOX", "2", true))

	msg, err := m.GetMessage(ctx, "INBOX", "2")
	require.NoError(t, err)
	assert.True(t, msg.IsRead)
	assert.True(t, msg.IsStarred)

	assert.ErrorIs(t, m.MarkRead(ctx, "INBOX", "99", true), ErrMessageNotFound)
}

func TestMockMoveMessage(t *testing.T) {
	m := NewMockMailbox(testAccount())
	ctx := context.Background()

	require.NoError(t, m.MoveMessage(ctx, "1", "INBOX", "Drafts"))

	_, err := m.GetMessage(ctx, "INBOX", "1")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	moved, err := m.GetMessage(ctx, "Drafts", "1")
	require.NoError(t, err)
	assert.Equal(t, "Drafts", moved.FolderID)
}

func TestMockDeleteMovesToTrash(t *testing.T) {
	m := NewMockMailbox(testAccount())
	ctx := context.Background()

	require.NoError(t, m.DeleteMessage(ctx, "INBOX", "1", false))
	trashed, err := m.GetMessage(ctx, "Trash", "1")
	require.NoError(t, err)
	assert.Equal(t, "Trash", trashed.FolderID)

	require.NoError(t, m.DeleteMessage(ctx, "Trash", "1", true))
	_, err = m.GetMessage(ctx, "Trash", "1")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMockSendMessage(t *testing.T) {
	m := NewMockMailbox(testAccount())
	ctx := context.Background()

	err := m.SendMessage(ctx, &types.ComposerData{Subject: "no recipients"})
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Empty(t, m.SentMessages())

	msg := &types.ComposerData{
		To:      []types.MailContact{{Email: "dest@example.com"}},
		Subject: "hello",
		Body:    types.MailBody{Text: "hi there"},
	}
	require.NoError(t, m.SendMessage(ctx, msg))
	require.Len(t, m.SentMessages(), 1)

	sent, _, err := m.ListMessages(ctx, "Sent", 10, 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "hello", sent[0].Subject)
}

func TestMockSaveDraftAndAttachment(t *testing.T) {
	m := NewMockMailbox(testAccount())
	ctx := context.Background()

	draft, err := m.SaveDraft(ctx, &types.ComposerData{
		To:      []types.MailContact{{Email: "dest@example.com"}},
		Subject: "work in progress",
		Body:    types.MailBody{Text: "unfinished"},
		Attachments: []types.ComposerAttachment{
			{Filename: "notes.txt", ContentType: "text/plain", Content: []byte("scratch notes")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Drafts", draft.FolderID)
	assert.True(t, draft.IsRead)
	require.Len(t, draft.Attachments, 1)

	stored, err := m.GetMessage(ctx, "Drafts", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "work in progress", stored.Subject)

	att, err := m.GetAttachment(ctx, "Drafts", draft.ID, draft.Attachments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", att.Filename)
	assert.Equal(t, []byte("scratch notes"), att.Content)

	_, err = m.GetAttachment(ctx, "Drafts", draft.ID, "missing-att")
	assert.ErrorIs(t, err, ErrAttachmentNotFound)
}

func TestMockSearch(t *testing.T) {
	m := NewMockMailbox(testAccount())
	ctx := context.Background()

	hits, err := m.Search(ctx, "INBOX", "quarterly")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Quarterly report draft", hits[0].Subject)

	hits, err = m.Search(ctx, "INBOX", "dana@example.com")
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = m.Search(ctx, "INBOX", "zzz-not-there")
	require.NoError(t, err)
	assert.Empty(t, hits)
}
