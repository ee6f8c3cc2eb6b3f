// Package environment describes the default seed test environment: one
// controller and two MySQL agents, and the plan that installs them.
package environment

import (
	"seedharness/internal/host"
	"seedharness/internal/pool"
	"seedharness/internal/provision"
)

// Logical host names of the default topology.
const (
	Controller  = "orchestrator"
	SourceAgent = "sourceagent"
	TargetAgent = "targetagent"
)

// AddressFormat allocates 192.168.58.20, .21, .22 in topology order.
const AddressFormat = "192.168.58.2%d"

// ControllerAPI is the controller API as seen from the controller host.
const ControllerAPI = "http://localhost:3000"

// Options selects the variant of the environment.
type Options struct {
	MySQLVersion     string
	ControllerRepo   string
	ControllerBranch string
	OnlyUpdateAgents bool
}

// Topology returns the default hosts in creation order.
func Topology() []pool.Entry {
	return []pool.Entry{
		{Name: Controller, Role: host.Controller},
		{Name: SourceAgent, Role: host.DataNode, Tags: []string{host.TagSource}},
		{Name: TargetAgent, Role: host.DataNode, Tags: []string{host.TagTarget}},
	}
}

// AddressRule allocates the default topology addresses.
func AddressRule() pool.AddressRule {
	return pool.Sequential(AddressFormat)
}

// Plan returns the full provisioning plan for opts. In only-update-agents
// mode the controller is reused as is and agents are reinstalled.
func Plan(opts Options) provision.Plan {
	plan := provision.Plan{Name: "environment"}
	if !opts.OnlyUpdateAgents {
		plan = plan.Merge(ControllerPlan(opts.ControllerRepo, opts.ControllerBranch))
	}
	return plan.Merge(AgentPlan(opts.MySQLVersion, opts.OnlyUpdateAgents)).Merge(FixturePlan())
}

var controller = host.ByRole(host.Controller)

// ControllerPlan builds the controller from source and starts it.
func ControllerPlan(repo, branch string) provision.Plan {
	return provision.Plan{
		Name: "controller",
		Vars: map[string]string{"repo": repo, "branch": branch},
		Steps: []provision.Step{
			{Name: "clone", Ordinal: 10, AppliesTo: controller, Command: "mkdir -p $GOPATH/src/github.com/github/orchestrator && " +
				"git clone --single-branch --branch {{quote .Vars.branch}} {{quote .Vars.repo}} $GOPATH/src/github.com/github/orchestrator"},
			{Name: "build", Ordinal: 11, AppliesTo: controller, Command: "cd $GOPATH/src/github.com/github/orchestrator/ && ./build.sh -t linux -i systemd -P"},
			{Name: "install", Ordinal: 12, AppliesTo: controller, Command: "sudo yum install -y $(find /tmp/orchestrator-release/ -name 'orchestrator-*.rpm' | grep -v cli)"},
			{Name: "configure", Ordinal: 13, AppliesTo: controller, Command: "sudo cp /vagrant/orchestrator.conf.json /etc/orchestrator.conf.json"},
			{Name: "start", Ordinal: 14, AppliesTo: controller, Command: "sudo service orchestrator start"},
		},
	}
}

var agents = host.ByRole(host.DataNode)

// AgentPlan installs the agent package on every data node. Each agent gets
// a distinct MySQL server_id starting at 2; in update mode MySQL is left
// alone and the previous agent package is removed first.
func AgentPlan(mysqlVersion string, update bool) provision.Plan {
	var steps []provision.Step
	if update {
		steps = []provision.Step{
			{Name: "erase-agent", Ordinal: 20, AppliesTo: agents, Command: "sudo yum -y erase orchestrator-agent.x86_64"},
			{Name: "stop-agent", Ordinal: 21, AppliesTo: agents, Command: "sudo service orchestrator-agent stop"},
		}
	} else {
		steps = []provision.Step{
			{Name: "server-id", Ordinal: 20, AppliesTo: agents, Command: `sudo bash -c "grep -rli /etc/my.cnf -e 'server_id = 1' | ` +
				`xargs -i@ sed -i 's/server_id = 1/server_id = {{add .RoleIndex 2}}/g' @"`},
			{Name: "reset-uuid", Ordinal: 21, AppliesTo: agents, Command: "sudo rm -rf /var/lib/mysql/auto.cnf"},
			{Name: "restart-mysql", Ordinal: 22, AppliesTo: agents, Command: "sudo service mysql restart"},
		}
	}

	steps = append(steps,
		provision.Step{Name: "backup-dir", Ordinal: 23, AppliesTo: agents, Command: `sudo bash -c "rm -rf /tmp/bkp && mkdir /tmp/bkp && chown -R mysql:mysql /tmp/bkp"`},
		provision.Step{Name: "install-agent", Ordinal: 24, AppliesTo: agents, Command: "sudo yum install -y $(find /vagrant -name 'orchestrator-agent*.rpm')"},
		provision.Step{Name: "configure-agent", Ordinal: 25, AppliesTo: agents, Command: "sudo cp /vagrant/orchestrator-agent_{{.Vars.mysqlVersion}}.conf /etc/orchestrator-agent.conf && " +
			"sudo chown mysql:mysql /etc/orchestrator-agent.conf"},
		provision.Step{Name: "reload-units", Ordinal: 26, AppliesTo: agents, Command: "sudo systemctl daemon-reload"},
		provision.Step{Name: "start-agent", Ordinal: 27, AppliesTo: agents, Command: "sudo service orchestrator-agent start && sleep 10s"},
	)

	return provision.Plan{
		Name:  "agents",
		Vars:  map[string]string{"mysqlVersion": mysqlVersion},
		Steps: steps,
	}
}

// FixturePlan loads the sample databases on source hosts.
func FixturePlan() provision.Plan {
	source := host.ByTag(host.TagSource)
	return provision.Plan{
		Name: "fixtures",
		Steps: []provision.Step{
			{Name: "load-employees", Ordinal: 30, AppliesTo: source, Command: "cd /home/vagrant/databases/employees && mysql < employees.sql"},
			{Name: "load-sakila", Ordinal: 31, AppliesTo: source, Command: "mysql < /home/vagrant/databases/sakila/sakila.sql"},
			{Name: "load-world", Ordinal: 32, AppliesTo: source, Command: "mysql < /home/vagrant/databases/world/world.sql"},
		},
	}
}
