package experiment

import (
	"encoding/json"

	"github.com/experiment-hub/experiment-hub/server/filter"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/user"
	"github.com/juju/errors"
)

// allParticipants is the wildcard participant id accepted by the
// privileged endpoints.
const allParticipants = "all"

func invalidDatatype() error {
	return message.NewDomainError(
		400, message.ErrTypeInvalidDatatype,
		"Message data has invalid format.",
	)
}

func (e *Experiment) registerExperimenterEndpoints(exp *user.Experimenter) {
	exp.OnMessage(message.TypeMute, e.handleMute)
	exp.OnMessage(message.TypeSetFilters, e.handleSetFilters)
	exp.OnMessage(message.TypeSetGroupFilters, e.handleSetGroupFilters)
	exp.OnMessage(message.TypeGetFiltersData, e.handleGetFiltersData)
	exp.OnMessage(message.TypeGetFiltersConfig, e.handleGetFiltersConfig)
	exp.OnMessage(message.TypeChat, e.makeChatHandler(exp.Core))

	exp.OnMessage(message.TypeKickParticipant, func(msg message.Message) (*message.Message, error) {
		return e.handleKick(msg, false)
	})

	exp.OnMessage(message.TypeBanParticipant, func(msg message.Message) (*message.Message, error) {
		return e.handleKick(msg, true)
	})

	exp.OnMessage(message.TypeExperimentStarted, func(message.Message) (*message.Message, error) {
		if err := e.Start(); err != nil {
			return nil, errors.Trace(err)
		}

		reply := message.NewSuccess(message.TypeExperimentStarted, "Experiment started.")

		return &reply, nil
	})

	exp.OnMessage(message.TypeExperimentEnded, func(message.Message) (*message.Message, error) {
		if err := e.End(); err != nil {
			return nil, errors.Trace(err)
		}

		reply := message.NewSuccess(message.TypeExperimentEnded, "Experiment ended.")

		return &reply, nil
	})
}

func (e *Experiment) handleMute(msg message.Message) (*message.Message, error) {
	var request message.MuteRequest

	if err := json.Unmarshal(msg.Data, &request); err != nil || request.ParticipantID == "" {
		return nil, errors.Trace(invalidDatatype())
	}

	p, err := e.participant(request.ParticipantID)
	if err != nil {
		return nil, errors.Trace(err)
	}

	p.SetMuted(request.MuteVideo, request.MuteAudio)

	e.syncSession()

	reply := message.NewSuccess(message.TypeMute, "Successfully set muted state.")

	return &reply, nil
}

// handleSetFilters replaces audio and video filter chains for one or all
// participants. Duplicate ids within one list fail the request before
// any participant is touched.
func (e *Experiment) handleSetFilters(msg message.Message) (*message.Message, error) {
	var request message.SetFiltersRequest

	if err := json.Unmarshal(msg.Data, &request); err != nil || request.ParticipantID == "" {
		return nil, errors.Trace(invalidDatatype())
	}

	for _, configs := range [][]message.FilterConfig{request.AudioFilters, request.VideoFilters} {
		if id, dup := message.DuplicateFilterIDs(configs); dup {
			return nil, errors.Trace(message.NewDomainError(
				400, message.ErrTypeDuplicateID,
				"Duplicate filter ID: "+string(id)+".",
			))
		}
	}

	targets, err := e.resolveParticipants(string(request.ParticipantID))
	if err != nil {
		return nil, errors.Trace(err)
	}

	for _, p := range targets {
		if err := p.SetAudioFilters(request.AudioFilters); err != nil {
			return nil, errors.Trace(err)
		}

		if err := p.SetVideoFilters(request.VideoFilters); err != nil {
			return nil, errors.Trace(err)
		}
	}

	reply := message.NewSuccess(message.TypeSetFilters, "Successfully applied filters.")

	return &reply, nil
}

func (e *Experiment) handleSetGroupFilters(msg message.Message) (*message.Message, error) {
	var request message.SetFiltersRequest

	if err := json.Unmarshal(msg.Data, &request); err != nil || request.ParticipantID == "" {
		return nil, errors.Trace(invalidDatatype())
	}

	targets, err := e.resolveParticipants(string(request.ParticipantID))
	if err != nil {
		return nil, errors.Trace(err)
	}

	for _, p := range targets {
		audioPorts := e.allocatePortPairs(len(request.AudioFilters))
		if err := p.SetAudioGroupFilters(request.AudioFilters, audioPorts); err != nil {
			return nil, errors.Trace(err)
		}

		videoPorts := e.allocatePortPairs(len(request.VideoFilters))
		if err := p.SetVideoGroupFilters(request.VideoFilters, videoPorts); err != nil {
			return nil, errors.Trace(err)
		}
	}

	reply := message.NewSuccess(message.TypeSetGroupFilters, "Successfully applied group filters.")

	return &reply, nil
}

// handleGetFiltersData collects filter telemetry for one or all
// participants, per channel.
func (e *Experiment) handleGetFiltersData(msg message.Message) (*message.Message, error) {
	var request message.GetFiltersDataRequest

	if err := json.Unmarshal(msg.Data, &request); err != nil || request.ParticipantID == "" {
		return nil, errors.Trace(invalidDatatype())
	}

	switch request.FilterChannel {
	case message.ChannelAudio, message.ChannelVideo, message.ChannelBoth:
	default:
		return nil, errors.Trace(message.NewDomainError(
			404, message.ErrTypeInvalidRequest,
			"Unknown filter channel: "+request.FilterChannel+".",
		))
	}

	targets, err := e.resolveParticipants(string(request.ParticipantID))
	if err != nil {
		return nil, errors.Trace(err)
	}

	result := map[string]message.FiltersData{}

	for _, p := range targets {
		var data message.FiltersData

		if request.FilterChannel == message.ChannelAudio || request.FilterChannel == message.ChannelBoth {
			data.Audio, err = p.AudioFiltersData(request.FilterID, request.FilterName)
			if err != nil {
				return nil, errors.Trace(err)
			}
		}

		if request.FilterChannel == message.ChannelVideo || request.FilterChannel == message.ChannelBoth {
			data.Video, err = p.VideoFiltersData(request.FilterID, request.FilterName)
			if err != nil {
				return nil, errors.Trace(err)
			}
		}

		result[string(p.ID())] = data
	}

	reply := message.New(message.TypeFiltersData, result)

	return &reply, nil
}

// handleGetFiltersConfig advertises the registered filter catalog.
func (e *Experiment) handleGetFiltersConfig(message.Message) (*message.Message, error) {
	catalog := e.params.Registry.Catalog(false)

	configs := make([]message.FilterConfig, 0, len(catalog))
	for _, desc := range catalog {
		configs = append(configs, descriptorConfig(desc))
	}

	reply := message.New(message.TypeFiltersConfig, configs)

	return &reply, nil
}

func descriptorConfig(desc filter.Descriptor) message.FilterConfig {
	return message.FilterConfig{
		Name:        desc.Type,
		Type:        desc.Type,
		Channel:     desc.Channel.String(),
		GroupFilter: desc.GroupFilter,
		Config:      desc.DefaultConfig,
	}
}

// makeChatHandler relays chat lines: "all" broadcasts, anything else
// goes to that participant or experimenter.
func (e *Experiment) makeChatHandler(author *user.Core) user.MessageHandler {
	return func(msg message.Message) (*message.Message, error) {
		var chat message.ChatMessage

		if err := json.Unmarshal(msg.Data, &chat); err != nil || chat.Target == "" {
			return nil, errors.Trace(invalidDatatype())
		}

		chat.Author = author.ID()
		chat.Time = e.clock.Now().UnixMilli()

		relayed := message.New(message.TypeChat, chat)

		if string(chat.Target) == allParticipants {
			e.Broadcast(relayed)

			return nil, nil
		}

		e.mu.Lock()

		var target user.User

		if p, ok := e.participants[chat.Target]; ok {
			target = p
		} else if exp, ok := e.experimenters[chat.Target]; ok {
			target = exp
		}

		e.mu.Unlock()

		if target == nil {
			return nil, errors.Trace(message.NewDomainError(
				404, message.ErrTypeUnknownParticipant,
				"No participant with the given id is connected.",
			))
		}

		target.Send(relayed)

		return nil, nil
	}
}

func (e *Experiment) handleKick(msg message.Message, ban bool) (*message.Message, error) {
	var request message.KickRequest

	if err := json.Unmarshal(msg.Data, &request); err != nil || request.ParticipantID == "" {
		return nil, errors.Trace(invalidDatatype())
	}

	if err := e.Kick(request.ParticipantID, request.Reason, ban); err != nil {
		return nil, errors.Trace(err)
	}

	requestType := message.TypeKickParticipant
	if ban {
		requestType = message.TypeBanParticipant
	}

	reply := message.NewSuccess(requestType, "Successfully removed participant.")

	return &reply, nil
}

// resolveParticipants maps the wildcard id to every participant and a
// concrete id to that single participant.
func (e *Experiment) resolveParticipants(id string) ([]*user.Participant, error) {
	if id == allParticipants {
		return e.participantList(), nil
	}

	p, err := e.participant(identifiers.UserID(id))
	if err != nil {
		return nil, errors.Trace(err)
	}

	return []*user.Participant{p}, nil
}
