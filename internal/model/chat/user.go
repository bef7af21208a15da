package chat

// User is the stored user record. The realtime core never mutates it.
type User struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// File references an uploaded file attached to a message.
type File struct {
	ID           string `json:"_id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalname"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
}
