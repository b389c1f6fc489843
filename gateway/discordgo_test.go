package gateway

import (
	"context"
	"testing"
	"time"

	"Tidelink/core/link"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
)

var _ link.Library = (*Discordgo)(nil)

type voiceRecorder struct {
	servers []string
	states  []string
}

func (r *voiceRecorder) HandleVoiceServerUpdate(guildID, token, endpoint string) {
	r.servers = append(r.servers, guildID+"|"+token+"|"+endpoint)
}

func (r *voiceRecorder) HandleVoiceStateUpdate(guildID, sessionID, channelID string, _, _ bool) {
	r.states = append(r.states, guildID+"|"+sessionID+"|"+channelID)
}

func newTestGateway(t *testing.T, shards int) *Discordgo {
	t.Helper()
	var sessions []*discordgo.Session
	for i := range shards {
		s, err := discordgo.New("Bot test-token")
		if err != nil {
			t.Fatal(err)
		}
		s.ShardID = i
		s.ShardCount = shards
		s.State.User = &discordgo.User{ID: "1000"}
		sessions = append(sessions, s)
	}
	return New(sessions...)
}

func TestVoiceEventsAreForwarded(t *testing.T) {
	d := newTestGateway(t, 1)
	s := d.sessions[0]
	rec := &voiceRecorder{}

	// 未绑定时丢弃
	d.onVoiceServerUpdate(s, &discordgo.VoiceServerUpdate{GuildID: "g", Token: "t0", Endpoint: "e"})
	d.Bind(rec)

	d.onVoiceServerUpdate(s, &discordgo.VoiceServerUpdate{GuildID: "g", Token: "t1", Endpoint: "us-east1.discord.media"})
	d.onVoiceStateUpdate(s, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{
		GuildID: "g", UserID: "1000", SessionID: "s1", ChannelID: "c1",
	}})
	d.onVoiceStateUpdate(s, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{
		GuildID: "g", UserID: "2000", SessionID: "other", ChannelID: "c1",
	}})
	d.onVoiceStateUpdate(s, &discordgo.VoiceStateUpdate{})

	if diff := cmp.Diff([]string{"g|t1|us-east1.discord.media"}, rec.servers); diff != "" {
		t.Errorf("server updates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"g|s1|c1"}, rec.states); diff != "" {
		t.Errorf("state updates mismatch (-want +got):\n%s", diff)
	}
}

func TestIdentityAndShards(t *testing.T) {
	d := newTestGateway(t, 3)
	if d.SelfID() != "1000" || d.ShardCount() != 3 {
		t.Errorf("self %q shards %d", d.SelfID(), d.ShardCount())
	}
	if d.session(2) != d.sessions[2] || d.session(7) != d.sessions[0] {
		t.Error("shard lookup did not fall back to the first session")
	}

	empty := New()
	if empty.SelfID() != "" || empty.ShardCount() != 1 {
		t.Errorf("empty gateway: self %q shards %d", empty.SelfID(), empty.ShardCount())
	}
	if err := empty.SendPacket(0, link.VoicePacket{}); err != ErrNoSession {
		t.Errorf("SendPacket() = %v, want ErrNoSession", err)
	}
}

func TestWaitReady(t *testing.T) {
	d := newTestGateway(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.WaitReady(ctx); err == nil {
		t.Fatal("WaitReady() before Ready succeeded")
	}

	ready := &discordgo.Ready{User: &discordgo.User{ID: "1000"}}
	d.onReady(d.sessions[0], ready)
	d.onReady(d.sessions[0], ready)
	if err := d.WaitReady(context.Background()); err != nil {
		t.Errorf("WaitReady() = %v", err)
	}
}
