package ws

import (
	"testing"
	"time"
)

func newTestManager(rec *presenceRecorder) *ConnectionManager {
	return NewConnectionManager(NewSessionRegistry(3), testGrace, rec.notify)
}

func TestManagerMultiDeviceDisconnect(t *testing.T) {
	rec := &presenceRecorder{}
	m := newTestManager(rec)
	defer m.Stop()

	phone := &fakeSocket{}
	laptop := &fakeSocket{}
	m.Register("u1", phone, makeInfo("u1", "s-phone"))
	m.Register("u1", laptop, makeInfo("u1", "s-laptop"))

	m.RemoveConnection(phone)
	if !m.IsUserConnected("u1") {
		t.Fatalf("user with a remaining socket must stay connected")
	}
	if got := m.ActiveConnectionCount("u1"); got != 1 {
		t.Fatalf("expected 1 active connection, got %d", got)
	}

	time.Sleep(4 * testGrace)
	if events := rec.snapshot(); len(events) != 1 {
		t.Fatalf("no offline event expected while a socket remains, got %d", len(events))
	}

	m.RemoveConnection(laptop)
	time.Sleep(4 * testGrace)
	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected exactly one offline event after the last socket closed, got %d", len(events))
	}
	if events[1].online {
		t.Fatalf("expected offline transition")
	}
}

func TestManagerEvictionClosesOldest(t *testing.T) {
	rec := &presenceRecorder{}
	m := newTestManager(rec)
	defer m.Stop()

	sockets := make([]*fakeSocket, 4)
	for i := range sockets {
		sockets[i] = &fakeSocket{}
		m.Register("u1", sockets[i], makeInfo("u1", "s1"))
	}

	closed, code := sockets[0].closedWith()
	if !closed {
		t.Fatalf("expected the oldest socket to be closed")
	}
	if code != ClosePolicyViolation {
		t.Fatalf("expected close code %d, got %d", ClosePolicyViolation, code)
	}
	if sockets[0].closes != 1 {
		t.Fatalf("evicted socket must be closed exactly once, got %d", sockets[0].closes)
	}
	for _, sock := range sockets[1:] {
		if closed, _ := sock.closedWith(); closed {
			t.Fatalf("surviving sockets must stay open")
		}
	}
	if got := m.ActiveConnectionCount("u1"); got != 3 {
		t.Fatalf("expected the socket set to stabilize at the cap, got %d", got)
	}
}

func TestManagerSendToUser(t *testing.T) {
	rec := &presenceRecorder{}
	m := newTestManager(rec)
	defer m.Stop()

	open := &fakeSocket{}
	closedSock := &fakeSocket{}
	closedSock.Close(CloseNormal, "gone")
	m.Register("u1", open, makeInfo("u1", "s1"))
	m.Register("u1", closedSock, makeInfo("u1", "s1"))

	sent := m.SendToUser("u1", map[string]string{"type": "PING"})
	if sent != 1 {
		t.Fatalf("expected 1 successful send, got %d", sent)
	}
	if open.writeCount() != 1 {
		t.Fatalf("open socket should have received the payload")
	}
	// The guarded no-op send does not remove the socket from tracking;
	// its read loop owns the removal.
	if got := m.ActiveConnectionCount("u1"); got != 2 {
		t.Fatalf("expected both sockets still tracked, got %d", got)
	}

	if sent := m.SendToUser("nobody", "x"); sent != 0 {
		t.Fatalf("sending to an offline user must report 0, got %d", sent)
	}
}

func TestManagerSendToUserDropsBrokenSocket(t *testing.T) {
	rec := &presenceRecorder{}
	m := newTestManager(rec)
	defer m.Stop()

	broken := &fakeSocket{failWrite: true}
	m.Register("u1", broken, makeInfo("u1", "s1"))

	if sent := m.SendToUser("u1", "x"); sent != 0 {
		t.Fatalf("expected 0 successful sends, got %d", sent)
	}
	if m.IsUserConnected("u1") {
		t.Fatalf("broken socket must be removed from tracking")
	}
	if closed, _ := broken.closedWith(); !closed {
		t.Fatalf("broken socket must be closed")
	}
}

func TestManagerKickUser(t *testing.T) {
	rec := &presenceRecorder{}
	m := newTestManager(rec)
	defer m.Stop()

	phone := &fakeSocket{}
	laptop := &fakeSocket{}
	m.Register("u1", phone, makeInfo("u1", "s-phone"))
	m.Register("u1", laptop, makeInfo("u1", "s-laptop"))

	m.KickUser("u1", CloseAccountSuspended, ReasonAccountSuspended)

	for _, sock := range []*fakeSocket{phone, laptop} {
		closed, code := sock.closedWith()
		if !closed || code != CloseAccountSuspended {
			t.Fatalf("expected close with %d, got closed=%v code=%d", CloseAccountSuspended, closed, code)
		}
		if sock.reason != ReasonAccountSuspended {
			t.Fatalf("expected reason %q, got %q", ReasonAccountSuspended, sock.reason)
		}
	}
	if m.IsUserConnected("u1") {
		t.Fatalf("kicked user must have no tracked sockets")
	}
}

func TestManagerRemoveSession(t *testing.T) {
	rec := &presenceRecorder{}
	m := newTestManager(rec)
	defer m.Stop()

	phone := &fakeSocket{}
	laptop := &fakeSocket{}
	m.Register("u1", phone, makeInfo("u1", "s-phone"))
	m.Register("u1", laptop, makeInfo("u1", "s-laptop"))

	m.RemoveSession("s-phone", ClosePolicyViolation, "session revoked")

	closed, code := phone.closedWith()
	if !closed || code != ClosePolicyViolation {
		t.Fatalf("expected phone socket closed with %d", ClosePolicyViolation)
	}
	if closed, _ := laptop.closedWith(); closed {
		t.Fatalf("other session's socket must stay open")
	}
	if got := m.ActiveConnectionCount("u1"); got != 1 {
		t.Fatalf("expected 1 tracked socket, got %d", got)
	}
}

func TestManagerBroadcast(t *testing.T) {
	rec := &presenceRecorder{}
	m := newTestManager(rec)
	defer m.Stop()

	a := &fakeSocket{}
	b := &fakeSocket{}
	gone := &fakeSocket{}
	gone.Close(CloseNormal, "gone")
	m.Register("u1", a, makeInfo("u1", "s1"))
	m.Register("u2", b, makeInfo("u2", "s2"))
	m.Register("u2", gone, makeInfo("u2", "s2"))

	sent := m.Broadcast(map[string]string{"type": "PRESENCE"})
	if sent != 2 {
		t.Fatalf("expected 2 successful broadcast writes, got %d", sent)
	}
	if a.writeCount() != 1 || b.writeCount() != 1 {
		t.Fatalf("every open socket must receive the payload")
	}
}

func TestManagerPresenceBroadcastToPeers(t *testing.T) {
	rec := &presenceRecorder{}
	var m *ConnectionManager
	// Presence transitions fan out to everyone still connected, the way the
	// composition root wires the notifier.
	m = NewConnectionManager(NewSessionRegistry(3), testGrace, func(userID string, online bool) {
		rec.notify(userID, online)
		m.Broadcast(presenceEvent{userID: userID, online: online})
	})
	defer m.Stop()

	watcher := &fakeSocket{}
	leaver := &fakeSocket{}
	m.Register("watcher", watcher, makeInfo("watcher", "s1"))
	m.Register("leaver", leaver, makeInfo("leaver", "s2"))

	m.RemoveConnection(leaver)
	time.Sleep(4 * testGrace)

	events := rec.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected watcher online, leaver online, leaver offline; got %d events", len(events))
	}
	// Two online announcements plus the debounced offline reached the watcher.
	if watcher.writeCount() != 3 {
		t.Fatalf("expected 3 presence payloads on the watcher socket, got %d", watcher.writeCount())
	}
}

func TestManagerStats(t *testing.T) {
	rec := &presenceRecorder{}
	m := newTestManager(rec)
	defer m.Stop()

	m.Register("u1", &fakeSocket{}, makeInfo("u1", "s1"))
	m.Register("u2", &fakeSocket{}, makeInfo("u2", "s2"))

	stats := m.Stats()
	if stats.TotalConnections != 2 || stats.ConnectedUsers != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
