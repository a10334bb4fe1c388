// Package catalog loads the deployment resource catalog and applies it to the
// role engine.
//
// A catalog is a YAML document listing protectable resources and the system
// roles every tenant carries, with their minimum grants:
//
//	resources:
//	  - id: events.list
//	    name: Events
//	    module: events
//	    route: /events
//	system_roles:
//	  - name: Event Director
//	    level: 1
//	    defaults:
//	      - resource: events.list
//	        view: true
//	        edit: true
//	        scope: global
//
// Apply upserts the resources, ensures each system role, registers its
// defaults with the permission matrix and raises existing grant rows to meet
// them. Applying the same catalog twice is a no-op. Watcher re-applies the
// file whenever it changes on disk.
package catalog
