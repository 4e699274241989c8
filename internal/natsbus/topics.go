package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicAgentInbox(agentID string) string {
	return fmt.Sprintf("hive.agent.%s.inbox", agentID)
}

func TopicExec(agentType string) string {
	return fmt.Sprintf("hive.exec.%s", agentType)
}

func TopicEvent(channel string) string {
	return fmt.Sprintf("hive.events.%s", channel)
}

const (
	TopicIPC       = "hive.ipc"
	TopicEventsAll = "hive.events.>"
	TopicInboxAll  = "hive.agent.*.inbox"
)
