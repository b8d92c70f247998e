package http

import (
	"encoding/json"

	"github.com/vovakirdan/wiresync/internal/connection"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/proto"
)

func roomToProto(r core.Room) proto.Room {
	return proto.Room{
		ID:               r.ID,
		Name:             r.Name,
		Creator:          r.Creator,
		CreatedAt:        r.CreatedAt.UnixMilli(),
		Code:             r.Code,
		LastActivity:     r.LastActivity.UnixMilli(),
		ParticipantCount: r.ParticipantCount,
		IsPublic:         r.IsPublic,
	}
}

func roomsToProto(rooms []core.Room) []proto.Room {
	out := make([]proto.Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomToProto(r))
	}
	return out
}

func messageToProto(m core.ChatMessage) proto.EventMessage {
	return proto.EventMessage{
		Room: m.RoomID,
		User: m.Sender,
		Text: m.Content,
		TS:   m.Timestamp.UnixMilli(),
	}
}

func historyToProto(roomID string, msgs []core.ChatMessage) proto.EventHistory {
	out := make([]proto.EventMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToProto(m))
	}
	return proto.EventHistory{Room: roomID, Messages: out}
}

func connectionToProto(st connection.Status) proto.EventConnection {
	ev := proto.EventConnection{State: st.State.String(), Attempt: st.Attempt}
	if st.Err != nil {
		ev.Error = st.Err.Error()
	}
	return ev
}

// ConnectionEvent builds the hub event reporting st.
func ConnectionEvent(st connection.Status) *core.Event {
	info := &core.ConnectionInfo{State: st.State.String(), Attempt: st.Attempt}
	if st.Err != nil {
		info.Error = st.Err.Error()
	}
	return &core.Event{Kind: core.EventConnection, Connection: info}
}

// watchTopic resolves the hub topic a watch or unwatch request names.
func watchTopic(inbound proto.Inbound) (string, *proto.Error, error) {
	var data proto.WatchData
	if err := json.Unmarshal(inbound.Data, &data); err != nil {
		return "", nil, err
	}
	switch {
	case data.Room != "":
		return core.RoomTopic(data.Room), nil, nil
	case data.Topic == core.TopicRooms, data.Topic == core.TopicConnection:
		return data.Topic, nil, nil
	case data.Topic != "":
		if _, ok := core.ParseRoomTopic(data.Topic); ok {
			return data.Topic, nil, nil
		}
		return "", &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown topic " + data.Topic}, nil
	default:
		return "", &proto.Error{Code: core.ErrCodeBadRequest, Msg: "topic or room is required"}, nil
	}
}

func errorToProto(err error) *proto.Error {
	ce := core.AsCoreError(err)
	return &proto.Error{Code: ce.Code, Msg: ce.Message}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventRoomsChanged:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameRooms,
			Data:  proto.EventRoomsData{Rooms: roomsToProto(event.Rooms)},
		}
	case core.EventMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameMessage,
			Data:  messageToProto(event.Message),
		}
	case core.EventHistory:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameHistory,
			Data:  historyToProto(event.RoomID, event.Messages),
		}
	case core.EventConnection:
		data := proto.EventConnection{}
		if event.Connection != nil {
			data = proto.EventConnection{
				State:   event.Connection.State,
				Attempt: event.Connection.Attempt,
				Error:   event.Connection.Error,
			}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameConnection,
			Data:  data,
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
