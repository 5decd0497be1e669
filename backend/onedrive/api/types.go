// Package api has type definitions for the Microsoft Graph drive API
package api

import "time"

// FolderFacet groups folder-related data on an item
type FolderFacet struct {
	ChildCount int64 `json:"childCount,omitempty"`
}

// FileFacet groups file-related data on an item
type FileFacet struct {
	MimeType string `json:"mimeType,omitempty"`
}

// Item is a drive item: a file or a folder. The folder facet is only
// present on folders, the file facet only on files. DownloadURL is a
// short lived pre-authenticated URL the Graph attaches to file
// metadata responses.
type Item struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	LastModifiedDateTime time.Time    `json:"lastModifiedDateTime"`
	Folder               *FolderFacet `json:"folder,omitempty"`
	File                 *FileFacet   `json:"file,omitempty"`
	DownloadURL          string       `json:"@microsoft.graph.downloadUrl,omitempty"`
}

// IsFolder reports whether the item carries the folder facet
func (i *Item) IsFolder() bool {
	return i.Folder != nil
}

// ListChildrenResponse is one page of a children listing. NextLink
// holds the full URL of the next page when there is one.
type ListChildrenResponse struct {
	Value    []Item `json:"value"`
	NextLink string `json:"@odata.nextLink,omitempty"`
}

// CreateItemRequest creates a folder under the addressed parent. The
// empty folder facet marks the new item as a folder.
type CreateItemRequest struct {
	Name             string      `json:"name"`
	Folder           FolderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"`
}

// ItemReference identifies an item, normally a parent folder, by ID
type ItemReference struct {
	ID string `json:"id"`
}

// MoveItemRequest alters an item's parent folder and/or name
type MoveItemRequest struct {
	ParentReference *ItemReference `json:"parentReference,omitempty"`
	Name            string         `json:"name,omitempty"`
}

// CopyItemRequest asks the service to copy an item. The copy runs as
// an async job which a 202 acknowledges.
type CopyItemRequest struct {
	ParentReference *ItemReference `json:"parentReference,omitempty"`
	Name            string         `json:"name,omitempty"`
}

// ThumbnailResponse carries the URL of one service generated thumbnail
type ThumbnailResponse struct {
	URL string `json:"url"`
}
