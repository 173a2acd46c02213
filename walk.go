// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

// WalkFunc is called for each variable visited by Walk or BulkWalk.
// Returning an error stops the walk and returns that error.
type WalkFunc func(v Variable) error

// Walk retrieves the subtree rooted at root with GETNEXT requests.
func (s *Session) Walk(root OID, fn WalkFunc) error {
	return s.walk(GetNextRequest, root, fn)
}

// BulkWalk retrieves the subtree rooted at root with GETBULK requests of
// Session.MaxRepetitions rows each.
func (s *Session) BulkWalk(root OID, fn WalkFunc) error {
	return s.walk(GetBulkRequest, root, fn)
}

// WalkAll is Walk collecting the results.
func (s *Session) WalkAll(root OID) ([]Variable, error) {
	var out []Variable
	err := s.Walk(root, func(v Variable) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// BulkWalkAll is BulkWalk collecting the results.
func (s *Session) BulkWalkAll(root OID) ([]Variable, error) {
	var out []Variable
	err := s.BulkWalk(root, func(v Variable) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

func (s *Session) walk(op PDUType, root OID, fn WalkFunc) error {
	if len(root) == 0 {
		return errorf(CodeBadOID, "walk", "empty root OID")
	}
	maxReps := s.MaxRepetitions
	if maxReps == 0 {
		maxReps = DefaultMaxRepetitions
	}

	cur := root
	if len(root) == 1 {
		// a lone arc cannot be encoded; X.0 precedes everything below X
		cur = OID{root[0], 0}
	}
	visited := 0
RequestLoop:
	for {
		var res *PDU
		var err error
		if op == GetBulkRequest {
			res, err = s.GetBulk([]OID{cur}, 0, maxReps)
		} else {
			res, err = s.GetNext([]OID{cur})
		}
		if err != nil {
			return err
		}

		switch {
		case res.ErrorStatus == NoSuchName:
			// SNMPv1 end of MIB view
			s.Logger.Print("walk terminated with NoSuchName")
			break RequestLoop
		case res.ErrorStatus != NoError:
			return errorf(CodeAgent, "walk", "agent returned %s at index %d", res.ErrorStatus, res.ErrorIndex)
		case len(res.Variables) == 0:
			break RequestLoop
		}

		for _, v := range res.Variables {
			if v.IsException() || !v.Name.HasPrefix(root) {
				break RequestLoop
			}
			if v.Name.Cmp(cur) <= 0 {
				return errorf(CodeAgent, "walk", "OID %s returned after %s is not increasing", v.Name, cur)
			}
			if err := fn(v); err != nil {
				return err
			}
			visited++
			cur = v.Name
		}
	}

	// root may itself be an instance rather than a subtree
	if visited == 0 && len(root) > 1 {
		res, err := s.Get([]OID{root})
		if err != nil {
			return err
		}
		if res.ErrorStatus == NoError && len(res.Variables) == 1 && !res.Variables[0].IsException() {
			return fn(res.Variables[0])
		}
	}
	return nil
}
