package pubsub

// Filter decides whether an event is delivered to one subscriber. Filters
// must be pure: they only look at the event snapshot and never block.
type Filter func(Event) bool

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ConversationCreatedFor delivers creations the user participates in.
func ConversationCreatedFor(userID string) Filter {
	return func(ev Event) bool {
		return ev.Conversation != nil && ev.Conversation.HasParticipant(userID)
	}
}

// ConversationUpdatedFor delivers updates to current participants, to the
// author of the triggering message, and to users being removed. Authorship
// of an older latest message grants nothing.
func ConversationUpdatedFor(userID string) Filter {
	return func(ev Event) bool {
		if ev.Conversation == nil {
			return false
		}
		isParticipant := ev.Conversation.HasParticipant(userID)
		triggered := ev.TriggeredBy != "" && ev.TriggeredBy == userID
		beingRemoved := contains(ev.RemovedUserIDs, userID)

		return (isParticipant && !triggered) || triggered || beingRemoved
	}
}

// ConversationDeletedFor delivers deletions to the last known participants.
func ConversationDeletedFor(userID string) Filter {
	return func(ev Event) bool {
		return ev.Conversation != nil && ev.Conversation.HasParticipant(userID)
	}
}

// MessagesIn delivers message events of one conversation.
func MessagesIn(conversationID string) Filter {
	return func(ev Event) bool {
		return ev.Message != nil && ev.Message.ConversationID == conversationID
	}
}

// MessagesInFor is MessagesIn restricted to events whose conversation
// snapshot, when present, still lists userID. A user removed from the
// conversation stops receiving its messages from the removal commit on.
func MessagesInFor(conversationID, userID string) Filter {
	inConversation := MessagesIn(conversationID)
	return func(ev Event) bool {
		if !inConversation(ev) {
			return false
		}
		return ev.Conversation == nil || ev.Conversation.HasParticipant(userID)
	}
}

// ForTopic returns the standard filter for userID subscribing to topic.
// conversationID is only read by the message topics.
func ForTopic(topic Topic, userID, conversationID string) Filter {
	switch topic {
	case TopicConversationCreated:
		return ConversationCreatedFor(userID)
	case TopicConversationUpdated:
		return ConversationUpdatedFor(userID)
	case TopicConversationDeleted:
		return ConversationDeletedFor(userID)
	case TopicMessageSent, TopicMessageDeleted:
		return MessagesInFor(conversationID, userID)
	}
	return func(Event) bool { return false }
}
