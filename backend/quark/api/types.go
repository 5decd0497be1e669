// Package api has type definitions for the Quark drive API.
package api

import "encoding/json"

// Response is the envelope every drive endpoint replies with. The
// service signals failures inside a 200 body via Status and Code as
// often as with the HTTP status itself.
type Response struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Item is one row of a directory listing. The service has used several
// field names for the display name over time, so all of them decode.
type Item struct {
	FID       string `json:"fid"`
	FileName  string `json:"file_name"`
	Filename  string `json:"filename"`
	Name      string `json:"name"`
	File      bool   `json:"file"`
	Size      int64  `json:"size"`
	UpdatedAt int64  `json:"updated_at"` // milliseconds since the epoch
	Category  int    `json:"category"`
}

// IsDir reports whether the item is a directory. File is the only
// marker the service sends.
func (i *Item) IsDir() bool { return !i.File }

// DisplayName returns whichever name field the service filled in.
func (i *Item) DisplayName() string {
	if i.FileName != "" {
		return i.FileName
	}
	if i.Filename != "" {
		return i.Filename
	}
	return i.Name
}

// SortMetadata carries the listing total, under either of the names
// the service uses for it.
type SortMetadata struct {
	Total    int `json:"_total"`
	AltTotal int `json:"total"`
}

// Count returns whichever total the service filled in.
func (m *SortMetadata) Count() int {
	if m.Total != 0 {
		return m.Total
	}
	return m.AltTotal
}

// SortResponse is the reply to /file/sort.
type SortResponse struct {
	Response
	Data struct {
		List []Item `json:"list"`
	} `json:"data"`
	Metadata SortMetadata `json:"metadata"`
}

// DownloadRequest asks for direct links to the given files.
type DownloadRequest struct {
	FIDs []string `json:"fids"`
}

// DownloadInfo is one direct link from /file/download.
type DownloadInfo struct {
	DownloadURL string `json:"download_url"`
	LegacyURL   string `json:"DownloadUrl"`
}

// URL returns whichever link field the service filled in.
func (d *DownloadInfo) URL() string {
	if d.DownloadURL != "" {
		return d.DownloadURL
	}
	return d.LegacyURL
}

// DownloadResponse is the reply to /file/download.
type DownloadResponse struct {
	Response
	Data []DownloadInfo `json:"data"`
}

// PlayRequest asks for transcoded playback addresses of a video.
type PlayRequest struct {
	FID         string `json:"fid"`
	Resolutions string `json:"resolutions"`
	Supports    string `json:"supports"`
}

// PlayResponse is the reply to /file/v2/play/project.
type PlayResponse struct {
	Response
	Data struct {
		VideoList []struct {
			VideoInfo struct {
				URL string `json:"url"`
			} `json:"video_info"`
		} `json:"video_list"`
	} `json:"data"`
}

// CreateDirRequest creates one directory under a parent fid.
type CreateDirRequest struct {
	DirInitLock bool   `json:"dir_init_lock"`
	DirPath     string `json:"dir_path"`
	FileName    string `json:"file_name"`
	ParentFID   string `json:"pdir_fid"`
}

// FileActionRequest drives /file/delete and /file/move, which share a
// batch shape. ToParentFID is only sent for moves.
type FileActionRequest struct {
	ActionType  int      `json:"action_type"`
	ExcludeFIDs []string `json:"exclude_fids"`
	FileList    []string `json:"filelist"`
	ToParentFID string   `json:"to_pdir_fid,omitempty"`
}

// RenameRequest renames a file in place.
type RenameRequest struct {
	FID      string `json:"fid"`
	FileName string `json:"file_name"`
}

// UploadPreRequest opens an upload task.
type UploadPreRequest struct {
	CCPHashUpdate bool   `json:"ccp_hash_update"`
	DirName       string `json:"dir_name"`
	FileName      string `json:"file_name"`
	FormatType    string `json:"format_type"`
	CreatedAt     int64  `json:"l_created_at"`
	UpdatedAt     int64  `json:"l_updated_at"`
	ParentFID     string `json:"pdir_fid"`
	Size          int64  `json:"size"`
}

// UploadPre describes the upload task issued by /file/upload/pre:
// where the parts go and the opaque material later calls hand back.
type UploadPre struct {
	TaskID    string          `json:"task_id"`
	Bucket    string          `json:"bucket"`
	ObjKey    string          `json:"obj_key"`
	UploadID  string          `json:"upload_id"`
	UploadURL string          `json:"upload_url"`
	AuthInfo  string          `json:"auth_info"`
	Callback  json.RawMessage `json:"callback"`
}

// UploadPreResponse is the reply to /file/upload/pre.
type UploadPreResponse struct {
	Response
	Data     UploadPre `json:"data"`
	Metadata struct {
		PartSize int64 `json:"part_size"`
	} `json:"metadata"`
}

// UpdateHashRequest offers the file hashes for server side dedup.
type UpdateHashRequest struct {
	MD5    string `json:"md5"`
	SHA1   string `json:"sha1"`
	TaskID string `json:"task_id"`
}

// UpdateHashResponse is the reply to /file/update/hash. Finish means
// the service already had the bytes and the upload is done.
type UpdateHashResponse struct {
	Response
	Data struct {
		Finish bool `json:"finish"`
	} `json:"data"`
}

// UploadAuthRequest has the drive sign one object store request.
type UploadAuthRequest struct {
	AuthInfo string `json:"auth_info"`
	AuthMeta string `json:"auth_meta"`
	TaskID   string `json:"task_id"`
}

// UploadAuthResponse is the reply to /file/upload/auth.
type UploadAuthResponse struct {
	Response
	Data struct {
		AuthKey string `json:"auth_key"`
	} `json:"data"`
}

// UploadFinishRequest closes the upload task.
type UploadFinishRequest struct {
	ObjKey string `json:"obj_key"`
	TaskID string `json:"task_id"`
}
