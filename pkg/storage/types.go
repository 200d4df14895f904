package storage

const (
	DefaultPhotosDir = "photos"
	DefaultVideosDir = "videos"

	PhotoPrefix = "photo_"
	VideoPrefix = "video_"

	DefaultImageExt = ".jpg"

	DefaultFilePerm = 0660
	DefaultDirPerm  = 0750
)

type Kind string

const (
	KindPhoto Kind = "photos"
	KindVideo Kind = "videos"
)
