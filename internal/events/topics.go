package events

const (
	TopicConnStatus   = "conn.status"
	TopicUIConnState  = "conn.ui"
	TopicChatMessage  = "chat.message"
	TopicChatSendFail = "chat.send_failed"
	TopicOrderUpdate  = "order.update"
)
