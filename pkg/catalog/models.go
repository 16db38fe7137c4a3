// Package catalog is the durable document store for versions, uploads,
// chunks, packed files and download servers, backed by MongoDB.
package catalog

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VersionState is the lifecycle state of a Version.
type VersionState string

const (
	VersionPending    VersionState = "PENDING"
	VersionProcessing VersionState = "PROCESSING"
	VersionReady      VersionState = "READY"
)

// UploadState is the lifecycle state of an Upload.
type UploadState string

const (
	UploadNone       UploadState = "NONE"
	UploadPending    UploadState = "PENDING"
	UploadProcessing UploadState = "PROCESSING"
	UploadReady      UploadState = "READY"
)

// BumpType selects which slot of the semantic tuple a new version increments.
type BumpType int

const (
	BumpMajor BumpType = iota
	BumpMinor
	BumpRevision
)

// Valid reports whether the bump type is one of the three known slots.
func (b BumpType) Valid() bool {
	return b >= BumpMajor && b <= BumpRevision
}

// Category classifies a packed file by the folder it lived under inside
// the uploaded zip. Each logical file belongs to exactly one category.
type Category int

const (
	CategoryGeneral Category = iota
	CategoryDesktop
	CategoryMobile
	CategoryWindows
	CategoryLinux
	CategoryMacOS
	CategoryAndroid
	CategoryIOS
	CategoryUncompressed
	CategoryBC3
	CategoryBC7
	CategoryETC2
	CategoryASTC

	categoryCount
)

// Folder returns the folder name a category maps to inside an update
// archive and the published output tree.
func (c Category) Folder() string {
	switch c {
	case CategoryGeneral:
		return "general"
	case CategoryDesktop:
		return "desktop"
	case CategoryMobile:
		return "mobile"
	case CategoryWindows:
		return "windows"
	case CategoryLinux:
		return "linux"
	case CategoryMacOS:
		return "macos"
	case CategoryAndroid:
		return "android"
	case CategoryIOS:
		return "ios"
	case CategoryUncompressed:
		return "uncompressed"
	case CategoryBC3:
		return "bc3"
	case CategoryBC7:
		return "bc7"
	case CategoryETC2:
		return "etc2"
	case CategoryASTC:
		return "astc"
	default:
		return fmt.Sprintf("unknown-%d", c)
	}
}

// Version is a semantic (major, minor, revision) release of the game
// payload. Exactly one Version exists per tuple; state transitions are
// monotonic and guarded by a compare-and-set on the previous state.
type Version struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Major       int32              `bson:"major" json:"major"`
	Minor       int32              `bson:"minor" json:"minor"`
	Revision    int32              `bson:"revision" json:"revision"`
	Description string             `bson:"description" json:"description"`
	State       VersionState       `bson:"state" json:"state"`
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updatedAt"`
}

// Semantic returns the dotted "major.minor.revision" form.
func (v *Version) Semantic() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// HexUpper returns the version id as uppercase hex, the form used for
// blob keys and manifest UrlPath values.
func (v *Version) HexUpper() string {
	return strings.ToUpper(v.ID.Hex())
}

// Upload is a single authored zip attached to a Version, uploaded in
// chunks. At most one Upload row exists per version; the ConcurrentID
// epoch scopes chunk rows and blobs to one coherent upload attempt.
type Upload struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	VersionID    primitive.ObjectID `bson:"version_id" json:"versionId"`
	ConcurrentID string             `bson:"concurrent_id" json:"concurrentId"`
	Hash         string             `bson:"hash" json:"hash"`
	ChunkSize    int64              `bson:"chunk_size" json:"chunkSize"`
	FileSize     int64              `bson:"file_size" json:"fileSize"`
	ChunksCount  int64              `bson:"chunks_count" json:"chunksCount"`
	State        UploadState        `bson:"state" json:"state"`
	CreatedAt    time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updatedAt"`
}

// HexUpper returns the upload id as uppercase hex, used in chunk blob keys.
func (u *Upload) HexUpper() string {
	return strings.ToUpper(u.ID.Hex())
}

// UploadChunk records one received chunk of an upload epoch.
// Identity is (upload_id, concurrent_id, offset).
type UploadChunk struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	UploadID     primitive.ObjectID `bson:"upload_id"`
	ConcurrentID string             `bson:"concurrent_id"`
	Offset       int64              `bson:"offset"`
	Size         int64              `bson:"size"`
	CreatedAt    time.Time          `bson:"created_at"`
}

// UpdateFile is one packed file belonging to a published Version.
// (version_id, local_path, category) is unique.
type UpdateFile struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	VersionID  primitive.ObjectID `bson:"version_id"`
	Category   Category           `bson:"category"`
	FileName   string             `bson:"file_name"`
	Extension  string             `bson:"extension"`
	LocalPath  string             `bson:"local_path"`
	PackedSize int64              `bson:"packed_size"`
	FileSize   int64              `bson:"file_size"`
	CRC32      string             `bson:"crc32"`
	CreatedAt  time.Time          `bson:"created_at"`
}

// Server is one public download mirror returned to game clients.
type Server struct {
	ID  primitive.ObjectID `bson:"_id,omitempty"`
	URL string             `bson:"url"`
}
