package database

type Repository interface {
	Ping() error
	InsertMessage(params CreateMessageParams) (Message, error)
	UpdateMessage(messageId int, content string) (Message, error)
	DeleteMessage(messageId int) error
	FetchMessageOwner(messageId int) (MessageOwner, error)
	GetDisplayName(userId int) (string, error)
	UpdateProfile(params UpdateProfileParams) (User, error)
}
