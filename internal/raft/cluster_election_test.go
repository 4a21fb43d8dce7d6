package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCluster_ElectsExactlyOneLeader(t *testing.T) {
	c := newTestCluster(3)
	c.startAll()
	defer c.shutdownAll()

	leader := c.waitForLeader(2 * time.Second)
	require.NotNil(t, leader, "expected a leader to be elected")

	leaderCount := 0
	for _, n := range c.nodes {
		if isLeader, _ := n.IsLeader(); isLeader {
			leaderCount++
		}
	}
	require.Equal(t, 1, leaderCount)
}

func TestCluster_FollowersLearnTheLeaderID(t *testing.T) {
	c := newTestCluster(3)
	c.startAll()
	defer c.shutdownAll()

	leader := c.waitForLeader(2 * time.Second)
	require.NotNil(t, leader)

	ok := c.waitForCondition(time.Second, func() bool {
		for _, n := range c.nodes {
			_, knownLeader := n.IsLeader()
			if knownLeader != leader.ID() {
				return false
			}
		}
		return true
	})
	require.True(t, ok, "expected every follower to learn the leader's ID")
}

func TestCluster_SubmittedCommandReplicatesToAllNodes(t *testing.T) {
	c := newTestCluster(3)
	c.startAll()
	defer c.shutdownAll()

	leader := c.waitForLeader(2 * time.Second)
	require.NotNil(t, leader)

	ok, leaderID, index := leader.SubmitCommand([]byte(`{"type":"chat","user":"a","text":"hi","room":"general"}`))
	require.True(t, ok)
	require.Equal(t, leader.ID(), leaderID)
	require.Equal(t, uint64(1), index)

	replicated := c.waitForCondition(2*time.Second, func() bool {
		for _, n := range c.nodes {
			if n.CommitIndex() < index {
				return false
			}
		}
		return true
	})
	require.True(t, replicated, "expected all nodes to commit the entry")
}

func TestCluster_NonLeaderRejectsSubmitAndNamesLeader(t *testing.T) {
	c := newTestCluster(3)
	c.startAll()
	defer c.shutdownAll()

	leader := c.waitForLeader(2 * time.Second)
	require.NotNil(t, leader)

	var follower *Node
	for id, n := range c.nodes {
		if id != leader.ID() {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	c.waitForCondition(time.Second, func() bool {
		_, known := follower.IsLeader()
		return known == leader.ID()
	})

	ok, leaderID, _ := follower.SubmitCommand([]byte(`{"type":"chat"}`))
	require.False(t, ok)
	require.Equal(t, leader.ID(), leaderID)
}
