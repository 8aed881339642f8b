package arbiter

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/suite"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/types"
)

type EtcdLockSuite struct {
	suite.Suite
	e         *embed.Etcd
	endpoints string
}

func (s *EtcdLockSuite) SetupSuite() {
	cfg := embed.NewConfig()
	cfg.Dir = s.T().TempDir()

	ports, err := freeport.GetFreePorts(2)
	s.Require().NoError(err)
	peer, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", ports[0]))
	s.Require().NoError(err)
	client, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", ports[1]))
	s.Require().NoError(err)
	cfg.ListenPeerUrls = []url.URL{*peer}
	cfg.ListenClientUrls = []url.URL{*client}
	cfg.Logger = "zap"
	cfg.LogLevel = "error"

	s.e, err = embed.StartEtcd(cfg)
	s.Require().NoError(err)
	select {
	case <-s.e.Server.ReadyNotify():
	case <-time.After(60 * time.Second):
		s.e.Server.Stop()
		s.e.Close()
		s.e = nil
		s.FailNow("embedded etcd took too long to start")
	}
	s.endpoints = client.String()
}

func (s *EtcdLockSuite) TearDownSuite() {
	if s.e != nil {
		s.e.Server.Stop()
		s.e.Close()
	}
}

func (s *EtcdLockSuite) newClient() *clientv3.Client {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{s.endpoints},
		DialTimeout: 5 * time.Second,
	})
	s.Require().NoError(err)
	return cli
}

func (s *EtcdLockSuite) TestSingleMasterAcrossReplicas() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cliA, cliB := s.newClient(), s.newClient()
	defer cliA.Close()
	defer cliB.Close()

	lockA, err := NewEtcdLock(cliA, "/binlogha-test/single", 5, zap.NewNop())
	s.Require().NoError(err)
	lockB, err := NewEtcdLock(cliB, "/binlogha-test/single", 5, zap.NewNop())
	s.Require().NoError(err)

	a := New(lockA, zap.NewNop())
	b := New(lockB, zap.NewNop())

	s.Require().True(a.TryBecomeMaster(ctx))
	s.Require().False(b.TryBecomeMaster(ctx))
	s.Require().Equal(types.StatusUnknown, b.Status())
	s.Require().True(b.TryBecomeSlave(ctx))
	s.Require().Equal(types.StatusSlave, b.Status())

	// Releasing the lease frees the master role for a fresh replica.
	s.Require().NoError(a.Close())
	cliC := s.newClient()
	defer cliC.Close()
	lockC, err := NewEtcdLock(cliC, "/binlogha-test/single", 5, zap.NewNop())
	s.Require().NoError(err)
	c := New(lockC, zap.NewNop())
	s.Require().True(c.TryBecomeMaster(ctx))
	s.Require().NoError(c.Close())
	s.Require().NoError(b.Close())
}

func (s *EtcdLockSuite) TestStandbyRejoinsAfterFailover() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	const prefix = "/binlogha-test/failover"

	newReplica := func() (*Service, *clientv3.Client) {
		cli := s.newClient()
		lock, err := NewEtcdLock(cli, prefix, 5, zap.NewNop())
		s.Require().NoError(err)
		return New(lock, zap.NewNop()), cli
	}

	a, cliA := newReplica()
	defer cliA.Close()
	b, cliB := newReplica()
	defer cliB.Close()

	s.Require().True(a.TryBecomeMaster(ctx))
	s.Require().True(b.TryBecomeSlave(ctx))
	s.Require().False(b.TryBecomeMaster(ctx))

	// the master dies and its lease goes with it
	s.Require().NoError(a.Close())
	s.Require().True(b.TryBecomeMaster(ctx))
	s.Require().Equal(types.StatusMaster, b.Status())

	restarted, cliC := newReplica()
	defer cliC.Close()
	s.Require().True(restarted.TryBecomeSlave(ctx))
	s.Require().Equal(types.StatusSlave, restarted.Status())
	s.Require().False(restarted.TryBecomeMaster(ctx))

	s.Require().NoError(restarted.Close())
	s.Require().NoError(b.Close())
}

func TestEtcdLockSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("embedded etcd")
	}
	suite.Run(t, new(EtcdLockSuite))
}
