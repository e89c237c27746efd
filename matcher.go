package avflt

import "github.com/ubuntu-repo/redirfs/wire"

// ApplyReply implements spec.md §4.4: locate the agent by the replying
// process group, remove the event with matching id from that agent's
// backlog, apply the parsed reply, and complete the event. It returns
// ErrNoEntry if the agent or the id is unknown to that agent's backlog. A
// submitter that timed out or was interrupted after an agent took its
// event leaves the event in that backlog, so a late reply for it is
// applied and returns nil.
func (b *Broker) ApplyReply(agentPgid int, line []byte) error {
	rep, err := wire.ParseReply(line)
	if err != nil {
		return ErrInvalidArgument
	}
	return b.applyParsedReply(agentPgid, rep)
}

func (b *Broker) applyParsedReply(agentPgid int, rep wire.Reply) error {
	agent := b.Agents.Lookup(agentPgid)
	if agent == nil {
		return ErrNoEntry
	}

	e, err := agent.takeReply(rep.ID)
	if err != nil {
		return err
	}

	e.Result = rep.Res
	if rep.HasCache {
		e.CacheEligible = rep.Cache
	}
	e.Complete(rep.Res)
	e.Put()
	return nil
}
