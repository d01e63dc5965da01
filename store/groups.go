package store

import (
	"bytes"
	"strconv"
	"strings"

	"confab/models"
)

// groups.txt: group:creator:max:member1,member2,...
// group_invites.txt: group:invitee1,invitee2,...

func (s *Store) loadGroups() error {
	return s.eachLine(groupsFile, func(line string) {
		parts := strings.SplitN(line, ":", 4)
		if len(parts) < 3 {
			return
		}
		name := strings.TrimSpace(parts[0])
		if name == "" {
			return
		}
		max, _ := strconv.Atoi(strings.TrimSpace(parts[2]))
		g := &models.Group{Name: name, Creator: strings.TrimSpace(parts[1]), MaxMembers: max}
		if len(parts) == 4 {
			for _, m := range strings.Split(parts[3], ",") {
				m = strings.TrimSpace(m)
				if m != "" {
					g.Members = append(g.Members, m)
				}
			}
		}
		s.groups[name] = g
		for _, m := range g.Members {
			s.userGroups[m] = append(s.userGroups[m], name)
		}
	})
}

func (s *Store) marshalGroupsLocked() []byte {
	var b bytes.Buffer
	for _, g := range s.groups {
		b.WriteString(g.Name)
		b.WriteByte(':')
		b.WriteString(g.Creator)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(g.MaxMembers))
		b.WriteByte(':')
		b.WriteString(strings.Join(g.Members, ","))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func (s *Store) saveGroups() error {
	s.groupsMu.Lock()
	data := s.marshalGroupsLocked()
	s.groupsMu.Unlock()
	return s.writeTable(groupsFile, data)
}

func (s *Store) loadInvites() error {
	return s.eachLine(invitesFile, func(line string) {
		name, rest, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return
		}
		var list []string
		for _, tok := range strings.Split(rest, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				list = append(list, tok)
			}
		}
		s.invites[name] = list
	})
}

func (s *Store) marshalInvitesLocked() []byte {
	var b bytes.Buffer
	for name, list := range s.invites {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(list, ","))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func (s *Store) saveInvites() error {
	s.groupsMu.Lock()
	data := s.marshalInvitesLocked()
	s.groupsMu.Unlock()
	return s.writeTable(invitesFile, data)
}

// CreateGroup registers a new group with creator as admin and sole member.
func (s *Store) CreateGroup(name, creator string, maxMembers int) error {
	s.groupsMu.Lock()
	if _, ok := s.groups[name]; ok {
		s.groupsMu.Unlock()
		return ErrExists
	}
	s.groups[name] = &models.Group{Name: name, Creator: creator, MaxMembers: maxMembers, Members: []string{creator}}
	s.userGroups[creator] = append(s.userGroups[creator], name)
	data := s.marshalGroupsLocked()
	s.groupsMu.Unlock()
	return s.writeTable(groupsFile, data)
}

// Group returns a copy of the named group.
func (s *Store) Group(name string) (models.Group, bool) {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		return models.Group{}, false
	}
	out := *g
	out.Members = append([]string(nil), g.Members...)
	return out, true
}

func (s *Store) IsMember(group, user string) bool {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	g, ok := s.groups[group]
	return ok && contains(g.Members, user)
}

// InviteUser records an invite. Invites are not deduplicated; acceptance
// removes the first matching entry.
func (s *Store) InviteUser(group, target string) error {
	s.groupsMu.Lock()
	if _, ok := s.groups[group]; !ok {
		s.groupsMu.Unlock()
		return ErrNotFound
	}
	s.invites[group] = append(s.invites[group], target)
	data := s.marshalInvitesLocked()
	s.groupsMu.Unlock()
	return s.writeTable(invitesFile, data)
}

// JoinGroup moves user from the group's invite list into its members.
// A MaxMembers of 0 or less means unbounded.
func (s *Store) JoinGroup(group, user string) error {
	s.groupsMu.Lock()
	g, ok := s.groups[group]
	if !ok {
		s.groupsMu.Unlock()
		return ErrNotFound
	}
	inv := s.invites[group]
	if !contains(inv, user) {
		s.groupsMu.Unlock()
		return ErrInviteNotFound
	}
	// A refused join keeps the invite so the user can retry once a slot
	// frees up.
	if g.MaxMembers > 0 && len(g.Members) >= g.MaxMembers {
		s.groupsMu.Unlock()
		return ErrGroupFull
	}
	removeString(&inv, user)
	s.invites[group] = inv
	g.Members = append(g.Members, user)
	s.userGroups[user] = append(s.userGroups[user], group)
	grpData := s.marshalGroupsLocked()
	invData := s.marshalInvitesLocked()
	s.groupsMu.Unlock()
	if err := s.writeTable(groupsFile, grpData); err != nil {
		return err
	}
	return s.writeTable(invitesFile, invData)
}

// RejectInvite drops user's invite to group.
func (s *Store) RejectInvite(group, user string) error {
	s.groupsMu.Lock()
	if _, ok := s.groups[group]; !ok {
		s.groupsMu.Unlock()
		return ErrNotFound
	}
	inv := s.invites[group]
	if !removeString(&inv, user) {
		s.groupsMu.Unlock()
		return ErrInviteNotFound
	}
	s.invites[group] = inv
	data := s.marshalInvitesLocked()
	s.groupsMu.Unlock()
	return s.writeTable(invitesFile, data)
}

// RemoveMember ejects target from the group, dropping any outstanding invite
// for it as well. The creator cannot be removed.
func (s *Store) RemoveMember(group, target string) error {
	s.groupsMu.Lock()
	g, ok := s.groups[group]
	if !ok {
		s.groupsMu.Unlock()
		return ErrNotFound
	}
	if target == g.Creator || !removeString(&g.Members, target) {
		s.groupsMu.Unlock()
		return ErrNotMember
	}
	ug := s.userGroups[target]
	removeString(&ug, group)
	s.userGroups[target] = ug
	inv := s.invites[group]
	removeString(&inv, target)
	s.invites[group] = inv
	grpData := s.marshalGroupsLocked()
	invData := s.marshalInvitesLocked()
	s.groupsMu.Unlock()
	if err := s.writeTable(groupsFile, grpData); err != nil {
		return err
	}
	return s.writeTable(invitesFile, invData)
}

// UserGroups returns copies of the groups user belongs to, in join order.
func (s *Store) UserGroups(user string) []models.Group {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	var out []models.Group
	for _, name := range s.userGroups[user] {
		if g, ok := s.groups[name]; ok {
			cp := *g
			cp.Members = append([]string(nil), g.Members...)
			out = append(out, cp)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// removeString deletes the first occurrence of v from *list, reporting
// whether it was present.
func removeString(list *[]string, v string) bool {
	for i, s := range *list {
		if s == v {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}
