package discord_test

import (
	"net/http"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

type call struct {
	method  string
	guildID snowflake.ID
	userID  snowflake.ID
	update  any
}

// fakeAPI records calls and fails the methods named in errs.
type fakeAPI struct {
	mu        sync.Mutex
	calls     []call
	errs      map[string]error
	guildName string
	messages  []discord.MessageCreate
}

func notFound() error {
	return &rest.Error{Response: &http.Response{StatusCode: http.StatusNotFound}}
}

func (f *fakeAPI) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.errs[c.method]
}

func (f *fakeAPI) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeAPI) UpdateMember(
	guildID, userID snowflake.ID, update discord.MemberUpdate, _ ...rest.RequestOpt,
) (*discord.Member, error) {
	return nil, f.record(call{method: "UpdateMember", guildID: guildID, userID: userID, update: update})
}

func (f *fakeAPI) RemoveMember(guildID, userID snowflake.ID, _ ...rest.RequestOpt) error {
	return f.record(call{method: "RemoveMember", guildID: guildID, userID: userID})
}

func (f *fakeAPI) AddBan(guildID, userID snowflake.ID, _ time.Duration, _ ...rest.RequestOpt) error {
	return f.record(call{method: "AddBan", guildID: guildID, userID: userID})
}

func (f *fakeAPI) DeleteBan(guildID, userID snowflake.ID, _ ...rest.RequestOpt) error {
	return f.record(call{method: "DeleteBan", guildID: guildID, userID: userID})
}

func (f *fakeAPI) DeleteMessage(channelID, messageID snowflake.ID, _ ...rest.RequestOpt) error {
	return f.record(call{method: "DeleteMessage", guildID: channelID, userID: messageID})
}

func (f *fakeAPI) UpdateChannel(
	channelID snowflake.ID, update discord.ChannelUpdate, _ ...rest.RequestOpt,
) (discord.Channel, error) {
	return nil, f.record(call{method: "UpdateChannel", guildID: channelID, update: update})
}

func (f *fakeAPI) CreateDMChannel(userID snowflake.ID, _ ...rest.RequestOpt) (*discord.DMChannel, error) {
	if err := f.record(call{method: "CreateDMChannel", userID: userID}); err != nil {
		return nil, err
	}
	return &discord.DMChannel{}, nil
}

func (f *fakeAPI) CreateMessage(
	channelID snowflake.ID, create discord.MessageCreate, _ ...rest.RequestOpt,
) (*discord.Message, error) {
	f.mu.Lock()
	f.messages = append(f.messages, create)
	f.mu.Unlock()
	return &discord.Message{}, f.record(call{method: "CreateMessage", guildID: channelID})
}

func (f *fakeAPI) GetGuild(guildID snowflake.ID, _ bool, _ ...rest.RequestOpt) (*discord.RestGuild, error) {
	if err := f.record(call{method: "GetGuild", guildID: guildID}); err != nil {
		return nil, err
	}
	guild := &discord.RestGuild{}
	guild.Name = f.guildName
	return guild, nil
}

func (f *fakeAPI) Messages() []discord.MessageCreate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discord.MessageCreate(nil), f.messages...)
}
