package providers

import "github.com/nexcrm/mailgate/pkg/types"

// StandardFolder is a well-known folder of a provider's mailbox layout.
type StandardFolder struct {
	Name        string
	DisplayName string
	Type        types.FolderType
	Attributes  []string
}

// DefaultFolders is the generic 4-folder layout synthesized for an account
// before its real folder list has been fetched.
var DefaultFolders = []StandardFolder{
	{Name: "INBOX", DisplayName: "Inbox", Type: types.FolderInbox},
	{Name: "Sent", DisplayName: "Sent", Type: types.FolderSent, Attributes: []string{"\\Sent"}},
	{Name: "Drafts", DisplayName: "Drafts", Type: types.FolderDrafts, Attributes: []string{"\\Drafts"}},
	{Name: "Trash", DisplayName: "Trash", Type: types.FolderTrash, Attributes: []string{"\\Trash"}},
}

// folderTypeByAttribute maps IMAP SPECIAL-USE attributes to folder types.
var folderTypeByAttribute = map[string]types.FolderType{
	"\\Sent":    types.FolderSent,
	"\\Drafts":  types.FolderDrafts,
	"\\Trash":   types.FolderTrash,
	"\\Junk":    types.FolderSpam,
	"\\Archive": types.FolderArchive,
	"\\All":     types.FolderArchive,
}

// ClassifyFolder derives a folder type from its IMAP name and attributes.
// SPECIAL-USE attributes win; otherwise only INBOX gets a special type.
func ClassifyFolder(name string, attributes []string) types.FolderType {
	for _, attr := range attributes {
		if t, ok := folderTypeByAttribute[attr]; ok {
			return t
		}
	}
	if name == "INBOX" {
		return types.FolderInbox
	}
	return types.FolderCustom
}
