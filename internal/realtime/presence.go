package realtime

import (
	"time"

	"github.com/teamspace/teamspace/internal/types"
)

// PresenceRoom is the roster of connections currently signaling presence in
// a workspace. Mirrors the room lifecycle rule: removed when the last member
// leaves. Every mutation re-broadcasts the whole roster rather than a delta,
// so a lost update can never leave peers with a stale view.
type PresenceRoom struct {
	workspaceId string
	members     map[string]types.WorkspaceMember // keyed by connection id
	updatedAt   time.Time
}

func (pr *PresenceRoom) memberList() []types.WorkspaceMember {
	members := make([]types.WorkspaceMember, 0, len(pr.members))
	for _, m := range pr.members {
		members = append(members, m)
	}
	return members
}

func workspaceMemberFor(cc *ConnectionContext, role string) types.WorkspaceMember {
	return types.WorkspaceMember{
		UserId:    cc.UserId,
		Name:      cc.Username,
		AvatarUrl: cc.AvatarUrl,
		Role:      role,
		LastSeen:  Now(),
	}
}

// joinWorkspacePresence inserts the member and sends the full roster to the
// joiner before the other members hear about the change, so the joiner never
// misses itself in the first snapshot it receives.
func (co *Coordinator) joinWorkspacePresence(c *Client, workspaceId string, member types.WorkspaceMember) {
	pr, ok := co.presence[workspaceId]
	if !ok {
		pr = &PresenceRoom{
			workspaceId: workspaceId,
			members:     make(map[string]types.WorkspaceMember),
		}
		co.presence[workspaceId] = pr
		co.stats.Incr(statPresenceRooms)
	}

	pr.members[c.id] = member
	pr.updatedAt = co.now()
	c.workspaces[workspaceId] = struct{}{}

	snapshot := NewEvent(EventWorkspacePresence, WorkspacePresencePayload{
		WorkspaceId: workspaceId,
		Members:     pr.memberList(),
	})
	c.queueMessage(snapshot)
	co.broadcastPresence(pr, snapshot, c)
}

// leaveWorkspacePresence is idempotent; the remaining members get the
// updated roster, and an emptied roster is deleted.
func (co *Coordinator) leaveWorkspacePresence(c *Client, workspaceId string) {
	pr, ok := co.presence[workspaceId]
	if !ok {
		delete(c.workspaces, workspaceId)
		return
	}

	if _, ok := pr.members[c.id]; !ok {
		delete(c.workspaces, workspaceId)
		return
	}

	delete(pr.members, c.id)
	delete(c.workspaces, workspaceId)
	pr.updatedAt = co.now()

	if len(pr.members) == 0 {
		delete(co.presence, workspaceId)
		co.stats.Decr(statPresenceRooms)
		return
	}

	co.broadcastPresence(pr, NewEvent(EventWorkspacePresence, WorkspacePresencePayload{
		WorkspaceId: workspaceId,
		Members:     pr.memberList(),
	}), nil)
}

func (co *Coordinator) handleTaskUpdate(c *Client, req taskUpdateReq) {
	pr, ok := co.presence[req.workspaceId]
	if !ok {
		return
	}

	pr.updatedAt = co.now()
	co.broadcastPresence(pr, NewEvent(EventTaskUpdated, TaskUpdatedPayload{
		WorkspaceId: req.workspaceId,
		Task:        req.task,
		Action:      req.action,
		UserId:      c.context().UserId,
	}), c)
}

// broadcastPresence delivers an event to every connection on the workspace
// roster except skip. Best-effort, like room broadcast.
func (co *Coordinator) broadcastPresence(pr *PresenceRoom, msg *ServerMessage, skip *Client) {
	for connId := range pr.members {
		if skip != nil && connId == skip.id {
			continue
		}

		if cl, ok := co.clients[connId]; ok {
			cl.queueMessage(msg)
		}
	}
	co.stats.Incr(statEventsRouted)
}
