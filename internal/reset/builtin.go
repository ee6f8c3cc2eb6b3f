package reset

import (
	"fmt"

	"seedharness/internal/host"
)

// FixtureDatabases are the databases loaded on source hosts.
var FixtureDatabases = []string{"employees", "sakila", "world"}

var (
	source = host.ByTag(host.TagSource)
	target = host.ByTag(host.TagTarget)
	agents = host.ByRole(host.DataNode)
)

// ResetTargetAgent clears replication state and drops the fixture
// databases on target hosts. It runs before every scenario.
func ResetTargetAgent() Procedure {
	actions := []Action{
		{AppliesTo: target, Command: "mysql -e 'STOP SLAVE;'"},
		{AppliesTo: target, Command: "mysql -e 'RESET SLAVE ALL;'"},
	}
	for _, db := range FixtureDatabases {
		actions = append(actions, Action{AppliesTo: target, Command: fmt.Sprintf("mysql -e 'DROP DATABASE IF EXISTS %s;'", db)})
	}
	actions = append(actions, Action{AppliesTo: target, Command: "mysql -e 'RESET MASTER;'"})
	return Procedure{Name: "reset-target-agent", Actions: actions}
}

// touchSourceData writes to the source after a binlog reset so the seed
// has at least one transaction to carry.
const touchSourceData = `mysql employees -BNe "UPDATE employees set first_name='test' WHERE emp_no = 10001"`

// EnableGTID turns on GTID based replication on source and target hosts.
func EnableGTID() Procedure {
	return Procedure{Name: "enable-gtid", Actions: []Action{
		{AppliesTo: agents, Command: "sudo crudini --set /etc/my.cnf mysqld gtid_mode ON && " +
			"sudo crudini --set /etc/my.cnf mysqld enforce-gtid-consistency ON && sudo service mysql restart"},
		{AppliesTo: source, Command: `mysql -BNe "RESET MASTER"`},
		{AppliesTo: source, Command: touchSourceData},
	}}
}

// DisableGTID returns source and target hosts to positional replication.
func DisableGTID() Procedure {
	return Procedure{Name: "disable-gtid", Actions: []Action{
		{AppliesTo: agents, Command: "sudo crudini --del /etc/my.cnf mysqld gtid_mode && " +
			"sudo crudini --del /etc/my.cnf mysqld enforce-gtid-consistency && sudo service mysql restart"},
		{AppliesTo: source, Command: `mysql -BNe "RESET MASTER;"`},
		{AppliesTo: source, Command: touchSourceData},
	}}
}

// LVMVolume describes the logical volume holding the MySQL datadir.
type LVMVolume struct {
	VolumeGroup string
	Volume      string
	Size        string
	Datadir     string
}

// DefaultLVMVolume is the layout of the agent images.
var DefaultLVMVolume = LVMVolume{
	VolumeGroup: "mysql_vg",
	Volume:      "mysql_lv",
	Size:        "900M",
	Datadir:     "/var/lib/mysql",
}

// ResetLVM recreates the datadir volume on source hosts, dropping any
// snapshots left by an LVM seed, and restores the data onto it.
func ResetLVM(v LVMVolume) Procedure {
	backup := v.Datadir + "2"
	device := fmt.Sprintf("/dev/%s/%s", v.VolumeGroup, v.Volume)
	commands := []string{
		"sudo service mysql stop",
		fmt.Sprintf("sudo rm -rf %s && sudo mkdir -p %s", backup, backup),
		fmt.Sprintf(`sudo bash -c "cp -R %s/* %s"`, v.Datadir, backup),
		fmt.Sprintf("sudo umount %s || true", v.Datadir),
		fmt.Sprintf("sudo rm -rf %s || true", v.Datadir),
		fmt.Sprintf("sudo lvremove -f %s", v.VolumeGroup),
		fmt.Sprintf("sudo lvcreate -L %s -n %s %s -y", v.Size, v.Volume, v.VolumeGroup),
		fmt.Sprintf("sudo mkfs.ext4 -F %s", device),
		fmt.Sprintf("sudo mkdir -p %s", v.Datadir),
		fmt.Sprintf("sudo mount %s %s", device, v.Datadir),
		fmt.Sprintf(`sudo bash -c "cp -R %s/* %s"`, backup, v.Datadir),
		fmt.Sprintf("sudo rm -rf %s", backup),
		fmt.Sprintf("sudo chown -R mysql:mysql %s", v.Datadir),
		"sudo service mysql start && sleep 10s",
	}

	actions := make([]Action, len(commands))
	for i, cmd := range commands {
		actions[i] = Action{AppliesTo: source, Command: cmd}
	}
	return Procedure{Name: "reset-lvm", Actions: actions}
}

// Builtin returns the built-in procedure called name.
func Builtin(name string) (Procedure, bool) {
	switch name {
	case "reset-target-agent":
		return ResetTargetAgent(), true
	case "enable-gtid":
		return EnableGTID(), true
	case "disable-gtid":
		return DisableGTID(), true
	case "reset-lvm":
		return ResetLVM(DefaultLVMVolume), true
	default:
		return Procedure{}, false
	}
}
