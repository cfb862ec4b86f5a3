/*
 * Copyright 2021-2022 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package bootstrap

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rabbitstack/kguard/pkg/api"
	"github.com/rabbitstack/kguard/pkg/channel"
	"github.com/rabbitstack/kguard/pkg/config"
	"github.com/rabbitstack/kguard/pkg/driver/drivertest"
	"github.com/rabbitstack/kguard/pkg/introspect"
	"github.com/rabbitstack/kguard/pkg/journal"
	"github.com/rabbitstack/kguard/pkg/partition"
	"github.com/rabbitstack/kguard/pkg/policy"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lookupAddr = 0xfffff80000400000
	driverBase = 0xfffff80000600000
)

func newConfig(t *testing.T, file string) *config.Config {
	dir := t.TempDir()
	t.Setenv("KGUARD_CONFIG_FILE", file)
	t.Setenv("KGUARD_LOGGING_PATH", filepath.Join(dir, "logs"))
	t.Setenv("KGUARD_JOURNAL_PATH", filepath.Join(dir, "journal.db"))
	t.Setenv("KGUARD_API_TRANSPORT", "127.0.0.1:0")
	t.Cleanup(func() { logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks)) })
	cfg := config.NewWithOpts(config.WithRun())
	cfg.MustViperize(&cobra.Command{})
	return cfg
}

func drivers() ([]introspect.Driver, error) {
	return []introspect.Driver{{Name: "kguard.sys", Base: driverBase, Size: 0x8000}}, nil
}

func TestRunAndShutdown(t *testing.T) {
	cfg := newConfig(t, "_fixtures/kguard.yml")
	d := drivertest.New(drivertest.WithExport("PsLookupProcessByProcessId", lookupAddr))

	app, err := NewApp(cfg, WithIO(d), WithDrivers(drivers))
	require.NoError(t, err)
	require.NoError(t, app.Run())

	p := app.Partition()
	require.NotNil(t, p)
	kp, ok := d.Partition(p.ID())
	require.True(t, ok)
	assert.Equal(t, uint64(3000), kp.Options[uint32(partition.OptionInterceptTimeout)])
	assert.Equal(t, uint64((policy.Block|policy.Notify).Normalize()), kp.Options[uint32(partition.OptionDefaultAction)])

	st := app.Status()
	assert.Equal(t, "running", st.State)
	assert.Equal(t, "1.2.0", st.Driver)
	require.Len(t, st.Guards, 1)
	gs := st.Guards[0]
	assert.Equal(t, "text", gs.Name)
	assert.True(t, gs.Active)
	assert.Equal(t, "ps.name = 'notepad.exe'", gs.Filter)
	assert.Equal(t, 2, gs.Regions)
	assert.Equal(t, 1, gs.Patches)

	kg, ok := d.Guard(gs.ID)
	require.True(t, ok)
	assert.NotZero(t, kg.Filter)
	require.Len(t, kg.Regions, 2)
	require.Len(t, kg.Patches, 1)

	r, ok := d.Region(kg.Regions[0])
	require.True(t, ok)
	assert.Equal(t, uint32(policy.Write), r.Access)
	assert.NotZero(t, r.State)
	r, ok = d.Region(kg.Regions[1])
	require.True(t, ok)
	assert.Equal(t, uint64(driverBase), r.Base)
	assert.Equal(t, uint64(driverBase+0x8000), r.Limit)
	assert.Zero(t, r.State)

	pt, ok := d.Patch(kg.Patches[0])
	require.True(t, ok)
	assert.Equal(t, uint64(lookupAddr+0x10), pt.Address)
	assert.Equal(t, []byte{0xc3}, pt.Bytes)
	assert.True(t, pt.Enabled)

	rec, err := d.Intercept(p.ID(), 0, channel.InterceptRecord{Guard: gs.ID, PID: 42, Access: policy.Write}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, policy.Block, rec.Action)

	c := api.NewClient(app.Server().Addr(), time.Second*5)
	var remote Status
	require.NoError(t, c.Status(&remote))
	assert.Equal(t, st.Partition, remote.Partition)
	require.Len(t, remote.Guards, 1)
	vars, err := c.Vars()
	require.NoError(t, err)
	assert.Contains(t, vars, "journal.records.written")

	require.NoError(t, app.Shutdown())
	assert.Equal(t, 0, d.Allocations())
	_, ok = d.Guard(gs.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, d.Closes())

	j, err := journal.Open(cfg.Journal.Path, cfg.Journal.MaxRows)
	require.NoError(t, err)
	defer j.Close()
	records, err := j.Query(journal.Query{Kind: journal.Intercept})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(42), records[0].PID)
	assert.Equal(t, policy.Block, records[0].Action)

	// the callback diagnostic was drained before the journal closed
	records, err = j.Query(journal.Query{Kind: journal.Diagnostic})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, gs.ID, records[0].Guard)
	assert.Equal(t, "warning", records[0].Severity)
	assert.Nil(t, app.sink)
}

func TestRunGuardInstallFailure(t *testing.T) {
	cfg := newConfig(t, "_fixtures/kguard.yml")
	// the patch export is not resolvable
	d := drivertest.New()

	app, err := NewApp(cfg, WithIO(d), WithDrivers(drivers))
	require.NoError(t, err)
	err = app.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to install text guard")
	assert.Equal(t, 0, d.Allocations())
	assert.Equal(t, 1, d.Closes())
}

func TestRunDriverVersionMismatch(t *testing.T) {
	cfg := newConfig(t, "_fixtures/kguard.yml")
	d := drivertest.New(drivertest.WithVersion(1, 0, 4))

	app, err := NewApp(cfg, WithIO(d), WithDrivers(drivers))
	require.NoError(t, err)
	require.Error(t, app.Run())
	assert.Equal(t, 1, d.Count(ioctl.PartitionCreate))
	assert.Equal(t, 0, d.Count(ioctl.GuardRegister))
	assert.Equal(t, 1, d.Closes())
}

func TestRunWithoutConfigFile(t *testing.T) {
	cfg := newConfig(t, filepath.Join(t.TempDir(), "missing.yml"))
	d := drivertest.New()

	app, err := NewApp(cfg, WithIO(d))
	require.NoError(t, err)
	require.NoError(t, app.Run())

	st := app.Status()
	assert.Empty(t, st.Guards)
	b, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"guards":[]`)

	require.NoError(t, app.Shutdown())
}
